package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/course-access-service/common/auth"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/common/middleware"
	"github.com/yashrajoria/course-access-service/controllers"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"go.uber.org/zap"
)

// ServiceName identifies this service in health checks and metrics.
const ServiceName = "course-access-service"

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	Checkout *controllers.CheckoutController
	Webhook  *controllers.WebhookController
	Verify   *controllers.VerifyController
	Admin    *controllers.AdminController

	AdminTokens *auth.TokenValidator
	Metrics     aws_pkg.MetricsRecorder
	Logger      *zap.Logger

	ClientURL             string
	CheckoutRatePerMinute int
	CheckoutRateBurst     int
}

// NewRouter builds the gin engine with the shared middleware chain and all
// routes registered.
func NewRouter(rc RouterConfig) *gin.Engine {
	r := gin.New()
	// Handlers pass *gin.Context as a context.Context; let it carry the
	// request's cancellation and deadline.
	r.ContextWithFallback = true

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(rc.Logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MetricsMiddleware(rc.Metrics, ServiceName))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{rc.ClientURL},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
	})

	RegisterCourseAccessRoutes(r, rc)
	return r
}

// RegisterCourseAccessRoutes sets up the public, webhook and admin routes.
func RegisterCourseAccessRoutes(r *gin.Engine, rc RouterConfig) {
	api := r.Group("/api")

	// Public
	api.GET("/courses", rc.Checkout.ListCourses)
	api.POST("/create-checkout-session",
		middleware.RateLimitMiddleware(rc.CheckoutRatePerMinute, rc.CheckoutRateBurst),
		rc.Checkout.CreateCheckoutSession,
	)
	api.POST("/verify-code", rc.Verify.VerifyCode)

	// Signed by the payment provider
	api.POST("/webhook", rc.Webhook.StripeWebhook)

	// Operators
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin(rc.AdminTokens))
	admin.GET("/access-codes", rc.Admin.ListAccessCodes)
	admin.GET("/reconciliation", rc.Admin.ListUnreconciled)
}
