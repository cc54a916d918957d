package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendDynamoDB = "dynamodb"
	StoreBackendFile     = "file"
)

// Config is built once at startup and passed by value or pointer to the
// components that need it. Nothing mutates it after LoadConfig returns.
type Config struct {
	Port        string
	Environment string
	ClientURL   string

	StripeSecretKey  string
	StripeWebhookKey string
	Currency         string

	StoreBackend     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	DynamoDBTable    string
	AccessCodesFile  string

	RedisURL string
	CacheTTL time.Duration

	AccessEventsTopicARN string
	CourseCatalogFile    string
	AdminJWTSecret       string

	CheckoutRatePerMinute int
	CheckoutRateBurst     int

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
	UseAWSSecrets       bool
}

// StripeConfigured reports whether both Stripe credentials look usable.
// Placeholder keys from the sample .env count as unset.
func (c *Config) StripeConfigured() bool {
	return usableKey(c.StripeSecretKey) && usableKey(c.StripeWebhookKey)
}

// PostgresDSN builds the gorm/pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// LoadConfig reads configuration from the environment (and a local .env file
// when present), with optional Secrets Manager overrides.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseAWSSecrets {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		if err := ApplySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cacheTTL, err := time.ParseDuration(getEnv("CACHE_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	ratePerMinute, err := strconv.Atoi(getEnv("CHECKOUT_RATE_PER_MINUTE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKOUT_RATE_PER_MINUTE: %w", err)
	}
	rateBurst, err := strconv.Atoi(getEnv("CHECKOUT_RATE_BURST", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKOUT_RATE_BURST: %w", err)
	}

	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("APP_ENV", "development"),
		ClientURL:   strings.TrimSuffix(getEnv("CLIENT_URL", "http://localhost:5173"), "/"),

		StripeSecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:         strings.ToLower(getEnv("CURRENCY", "usd")),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		DynamoDBTable:    getEnv("DYNAMODB_TABLE", "access-codes"),
		AccessCodesFile:  getEnv("ACCESS_CODES_FILE", "data/accessCodes.json"),

		RedisURL: os.Getenv("REDIS_URL"),
		CacheTTL: cacheTTL,

		AccessEventsTopicARN: os.Getenv("ACCESS_EVENTS_SNS_TOPIC_ARN"),
		CourseCatalogFile:    os.Getenv("COURSE_CATALOG_FILE"),
		AdminJWTSecret:       os.Getenv("ADMIN_JWT_SECRET"),

		CheckoutRatePerMinute: ratePerMinute,
		CheckoutRateBurst:     rateBurst,

		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "CourseAccess"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/course-access/services"),
		UseAWSSecrets:       os.Getenv("AWS_USE_SECRETS") == "true",
	}, nil
}

// SecretSource is satisfied by aws_pkg.SecretsClient.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// ApplySecrets overrides Stripe and Postgres credentials from the secret store.
// Missing secrets leave the environment values in place.
func ApplySecrets(ctx context.Context, cfg *Config, sm SecretSource) error {
	if v, err := sm.GetSecret(ctx, "course-access/STRIPE_SECRET_KEY"); err == nil && v != "" {
		cfg.StripeSecretKey = v
	}
	if v, err := sm.GetSecret(ctx, "course-access/STRIPE_WEBHOOK_SECRET"); err == nil && v != "" {
		cfg.StripeWebhookKey = v
	}
	if cfg.StoreBackend != StoreBackendPostgres {
		return nil
	}
	m, err := sm.GetSecretMap(ctx, "course-access/DB_CREDENTIALS")
	if err != nil {
		return nil
	}
	for key, dst := range map[string]*string{
		"POSTGRES_USER":     &cfg.PostgresUser,
		"POSTGRES_PASSWORD": &cfg.PostgresPassword,
		"POSTGRES_DB":       &cfg.PostgresDB,
		"POSTGRES_HOST":     &cfg.PostgresHost,
		"POSTGRES_PORT":     &cfg.PostgresPort,
	} {
		if v, ok := m[key]; ok && v != "" {
			*dst = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" {
			return fmt.Errorf("database config incomplete")
		}
	case StoreBackendDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
		}
	case StoreBackendFile:
		if c.AccessCodesFile == "" {
			return fmt.Errorf("ACCESS_CODES_FILE is required for the file store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.CheckoutRatePerMinute <= 0 || c.CheckoutRateBurst <= 0 {
		return fmt.Errorf("checkout rate limit must be positive")
	}
	return nil
}

func usableKey(key string) bool {
	return key != "" && !strings.Contains(key, "REPLACE_ME")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
