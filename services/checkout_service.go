package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/yashrajoria/course-access-service/catalog"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/common/logger"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"go.uber.org/zap"
)

var validate = validator.New()

// CheckoutService opens hosted checkout sessions for catalog courses.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, req models.CheckoutRequest) (*CheckoutSession, error)
}

type checkoutServiceImpl struct {
	provider  PaymentProvider
	catalog   *catalog.Catalog
	clientURL string
	currency  string
	metrics   aws_pkg.MetricsRecorder
	logger    *zap.Logger
}

// NewCheckoutService creates a new CheckoutService. provider may be nil when
// the payment provider is not configured; every call then fails with
// ErrPaymentProviderUnavailable.
func NewCheckoutService(
	provider PaymentProvider,
	cat *catalog.Catalog,
	clientURL string,
	currency string,
	metrics aws_pkg.MetricsRecorder,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		provider:  provider,
		catalog:   cat,
		clientURL: strings.TrimRight(clientURL, "/"),
		currency:  currency,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateCheckout validates the request, prices it from the catalog and asks
// the provider for a session. Nothing is persisted here.
func (s *checkoutServiceImpl) CreateCheckout(ctx context.Context, req models.CheckoutRequest) (*CheckoutSession, error) {
	if s.provider == nil {
		return nil, apperrors.Detail(apperrors.ErrPaymentProviderUnavailable,
			"Payment provider not configured. Add your keys to the environment")
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	courseID := strings.TrimSpace(req.CourseID)
	if name == "" || email == "" {
		return nil, apperrors.Detail(apperrors.ErrValidation, "Name and email are required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return nil, apperrors.Detail(apperrors.ErrValidation, "A valid email is required")
	}

	course, err := s.catalog.Lookup(courseID)
	if err != nil {
		return nil, err
	}

	meta := models.CheckoutMetadata{Name: name, Email: email, CourseID: course.ID}
	sess, err := s.provider.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		CustomerEmail:      email,
		ProductName:        course.Name,
		ProductDescription: course.Description,
		AmountCents:        course.PriceCents,
		Currency:           s.currency,
		Metadata:           meta.ToMap(),
		SuccessURL:         fmt.Sprintf("%s/success?session_id={CHECKOUT_SESSION_ID}&course=%s", s.clientURL, url.QueryEscape(course.ID)),
		CancelURL:          s.clientURL + "/",
	})
	if err != nil {
		logger.For(ctx, s.logger).Error("Failed to create checkout session",
			zap.String("course_id", course.ID),
			zap.Error(err),
		)
		return nil, apperrors.New(http.StatusServiceUnavailable, "Failed to create checkout session",
			fmt.Errorf("%w: %w", apperrors.ErrPaymentProviderUnavailable, err))
	}

	logger.For(ctx, s.logger).Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("course_id", course.ID),
	)
	if s.metrics != nil {
		_ = s.metrics.RecordCount(ctx, aws_pkg.MetricCheckoutSessionsCreated, map[string]string{"CourseId": course.ID})
	}
	return sess, nil
}
