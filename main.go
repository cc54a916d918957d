package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/yashrajoria/course-access-service/catalog"
	"github.com/yashrajoria/course-access-service/common/auth"
	"github.com/yashrajoria/course-access-service/common/logger"
	"github.com/yashrajoria/course-access-service/config"
	"github.com/yashrajoria/course-access-service/controllers"
	"github.com/yashrajoria/course-access-service/database"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"github.com/yashrajoria/course-access-service/repository"
	"github.com/yashrajoria/course-access-service/routes"
	servicepkg "github.com/yashrajoria/course-access-service/services"
	"go.uber.org/zap"
)

// accessStore is what every store backend provides.
type accessStore interface {
	repository.AccessCodeRepository
	repository.ReconciliationRepository
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// AWS clients are optional; without credentials the service runs with
	// SNS, metrics and log shipping disabled.
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	var logSink io.Writer
	if awsErr == nil && cfg.CloudWatchEnabled {
		cwLogs, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, routes.ServiceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable: %v", err)
		} else {
			logSink = cwLogs
		}
	}

	zapLogger, err := logger.New(cfg.Environment, logSink)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	var snsClient aws_pkg.SNSPublisher
	var metrics aws_pkg.MetricsRecorder
	if awsErr != nil {
		zapLogger.Warn("AWS config unavailable, SNS and metrics disabled", zap.Error(awsErr))
	} else {
		if cfg.AccessEventsTopicARN != "" {
			snsClient = aws_pkg.NewSNSClient(awsCfg)
		}
		metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	courses := catalog.Default()
	if cfg.CourseCatalogFile != "" {
		courses, err = catalog.LoadFile(cfg.CourseCatalogFile)
		if err != nil {
			zapLogger.Fatal("Failed to load course catalog", zap.Error(err))
		}
	}

	if cfg.StoreBackend == config.StoreBackendDynamoDB && awsErr != nil {
		zapLogger.Fatal("DynamoDB store requires AWS configuration", zap.Error(awsErr))
	}
	store, closeStore, err := openStore(ctx, cfg, awsCfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to open access code store", zap.Error(err), zap.String("backend", cfg.StoreBackend))
	}
	defer closeStore()

	var cache servicepkg.AccessCodeCache
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Warn("Redis unavailable, verification cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			cache = servicepkg.NewRedisAccessCodeCache(redisClient, cfg.CacheTTL)
		}
	}

	var provider servicepkg.PaymentProvider
	if cfg.StripeConfigured() {
		provider = servicepkg.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookKey, nil)
	} else {
		zapLogger.Warn("Stripe keys not configured; checkout and webhooks will answer 503")
	}

	checkoutService := servicepkg.NewCheckoutService(provider, courses, cfg.ClientURL, cfg.Currency, metrics, zapLogger)
	webhookService := servicepkg.NewWebhookService(
		provider,
		courses,
		store,
		store,
		snsClient,
		cfg.AccessEventsTopicARN,
		metrics,
		zapLogger,
	)
	verifyService := servicepkg.NewVerifyService(store, cache, metrics, zapLogger)

	r := routes.NewRouter(routes.RouterConfig{
		Checkout:              controllers.NewCheckoutController(checkoutService, courses),
		Webhook:               controllers.NewWebhookController(webhookService),
		Verify:                controllers.NewVerifyController(verifyService),
		Admin:                 controllers.NewAdminController(store, store),
		AdminTokens:           auth.NewTokenValidator(cfg.AdminJWTSecret),
		Metrics:               metrics,
		Logger:                zapLogger,
		ClientURL:             cfg.ClientURL,
		CheckoutRatePerMinute: cfg.CheckoutRatePerMinute,
		CheckoutRateBurst:     cfg.CheckoutRateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Course access service started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.Int("courses", len(courses.List())),
	)
	<-quit
	zapLogger.Info("Shutting down course access service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

// openStore builds the backend named by cfg.StoreBackend. The returned func
// releases its resources.
func openStore(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config, zapLogger *zap.Logger) (accessStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendDynamoDB:
		client := database.NewDynamoClient(awsCfg)
		if err := database.EnsureTable(ctx, client, cfg.DynamoDBTable, zapLogger); err != nil {
			return nil, nil, err
		}
		return repository.NewDynamoAccessCodeRepository(client, cfg.DynamoDBTable), func() {}, nil

	case config.StoreBackendFile:
		store, err := repository.NewFileAccessCodeRepository(cfg.AccessCodesFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	default:
		db, err := database.ConnectPostgres(cfg.PostgresDSN(), zapLogger, &models.AccessCode{}, &models.UnreconciledEvent{})
		if err != nil {
			return nil, nil, err
		}
		return repository.NewGormAccessCodeRepository(db), func() {
			if err := database.Close(db); err != nil {
				zapLogger.Warn("Failed to close database", zap.Error(err))
			}
		}, nil
	}
}
