package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/course-access-service/catalog"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/common/logger"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"github.com/yashrajoria/course-access-service/repository"
	"go.uber.org/zap"
)

// MaxCodeAttempts bounds retries after a generated code collides.
const MaxCodeAttempts = 5

// WebhookOutcome says what processing a verified event led to.
type WebhookOutcome string

const (
	OutcomeIssued       WebhookOutcome = "issued"
	OutcomeIgnored      WebhookOutcome = "ignored"
	OutcomeDuplicate    WebhookOutcome = "duplicate"
	OutcomeUnreconciled WebhookOutcome = "unreconciled"
	OutcomeFailed       WebhookOutcome = "failed"
)

// WebhookResult describes a processed event. Every result is acknowledged to
// the provider; the outcome is for logs and tests.
type WebhookResult struct {
	Outcome  WebhookOutcome
	EventID  string
	Code     string
	CourseID string
}

// WebhookService turns verified payment events into access codes.
type WebhookService interface {
	// HandleCompletionEvent returns an error only when the event must be
	// rejected: the provider is not configured or the signature is invalid.
	HandleCompletionEvent(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error)
}

// WebhookOption customizes a WebhookService.
type WebhookOption func(*webhookServiceImpl)

// WithCodeGenerator replaces NewAccessCode.
func WithCodeGenerator(gen CodeGenerator) WebhookOption {
	return func(s *webhookServiceImpl) { s.newCode = gen }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) WebhookOption {
	return func(s *webhookServiceImpl) { s.now = now }
}

type webhookServiceImpl struct {
	provider    PaymentProvider
	catalog     *catalog.Catalog
	codes       repository.AccessCodeRepository
	ledger      repository.ReconciliationRepository
	snsClient   aws_pkg.SNSPublisher
	snsTopicArn string
	metrics     aws_pkg.MetricsRecorder
	logger      *zap.Logger
	newCode     CodeGenerator
	now         func() time.Time
}

// NewWebhookService creates a new WebhookService. snsClient and metrics are
// optional.
func NewWebhookService(
	provider PaymentProvider,
	cat *catalog.Catalog,
	codes repository.AccessCodeRepository,
	ledger repository.ReconciliationRepository,
	snsClient aws_pkg.SNSPublisher,
	snsTopicArn string,
	metrics aws_pkg.MetricsRecorder,
	logger *zap.Logger,
	opts ...WebhookOption,
) WebhookService {
	s := &webhookServiceImpl{
		provider:    provider,
		catalog:     cat,
		codes:       codes,
		ledger:      ledger,
		snsClient:   snsClient,
		snsTopicArn: snsTopicArn,
		metrics:     metrics,
		logger:      logger,
		newCode:     NewAccessCode,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *webhookServiceImpl) HandleCompletionEvent(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	if s.provider == nil {
		return nil, apperrors.Detail(apperrors.ErrPaymentProviderUnavailable, "Stripe not configured")
	}
	log := logger.For(ctx, s.logger)

	ev, err := s.provider.ParseEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, apperrors.ErrSignatureInvalid) {
			log.Warn("Webhook signature verification failed", zap.Error(err))
			s.count(ctx, aws_pkg.MetricWebhookSignatureFailed, nil)
			return nil, err
		}
		// Authentic but unreadable; redelivery would fail the same way.
		log.Error("Failed to decode verified webhook event", zap.Error(err))
		return &WebhookResult{Outcome: OutcomeFailed}, nil
	}

	log = log.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	result := &WebhookResult{EventID: ev.ID}

	if !ev.Paid() {
		log.Info("Ignoring webhook event", zap.String("payment_status", ev.PaymentStatus))
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	contactEmail := ev.CustomerEmail
	if contactEmail == "" {
		contactEmail = ev.DetailsEmail
	}
	meta, err := models.ResolveMetadata(ev.Metadata, models.Contact{Email: contactEmail, Name: ev.CustomerName})
	meta.Email = strings.ToLower(meta.Email)
	if errors.Is(err, models.ErrMissingCourseID) {
		return s.reconcile(ctx, log, ev, meta, models.ReasonMissingCourseID), nil
	}
	course, err := s.catalog.Lookup(meta.CourseID)
	if err != nil {
		return s.reconcile(ctx, log, ev, meta, models.ReasonUnknownCourseID), nil
	}
	if meta.Email == "" {
		log.Warn("Paid checkout has no buyer email", zap.String("session_id", ev.SessionID))
	}

	rec, err := s.issue(ctx, ev, meta)
	switch {
	case errors.Is(err, repository.ErrEventAlreadyProcessed):
		log.Info("Skipping already processed webhook event", zap.String("session_id", ev.SessionID))
		s.count(ctx, aws_pkg.MetricWebhookDuplicates, nil)
		result.Outcome = OutcomeDuplicate
		return result, nil
	case err != nil:
		log.Error("Failed to store access code",
			zap.String("session_id", ev.SessionID),
			zap.String("course_id", meta.CourseID),
			zap.Error(err),
		)
		result.Outcome = OutcomeFailed
		return result, nil
	}

	log.Info("Access code issued",
		zap.String("email", rec.Email),
		zap.String("course_id", rec.CourseID),
		zap.String("session_id", rec.SourceSessionID),
	)
	s.count(ctx, aws_pkg.MetricAccessCodesIssued, map[string]string{"CourseId": rec.CourseID})
	s.publishIssued(ctx, log, rec, course)

	result.Outcome = OutcomeIssued
	result.Code = rec.Code
	result.CourseID = rec.CourseID
	return result, nil
}

// issue appends a record with a fresh code, drawing a new code whenever the
// store reports a collision.
func (s *webhookServiceImpl) issue(ctx context.Context, ev *PaymentEvent, meta models.CheckoutMetadata) (*models.AccessCode, error) {
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate access code: %w", err)
		}
		rec := &models.AccessCode{
			Code:            code,
			Email:           meta.Email,
			Name:            meta.Name,
			CourseID:        meta.CourseID,
			CreatedAt:       s.now().UTC(),
			SourceSessionID: ev.SessionID,
			SourceEventID:   ev.ID,
		}
		err = s.codes.Append(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return nil, err
		}
		s.logger.Warn("Access code collision, retrying", zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("no unique access code after %d attempts: %w", MaxCodeAttempts, repository.ErrDuplicateCode)
}

func (s *webhookServiceImpl) reconcile(ctx context.Context, log *zap.Logger, ev *PaymentEvent, meta models.CheckoutMetadata, reason string) *WebhookResult {
	log.Error("Paid checkout cannot be matched to a course",
		zap.String("reason", reason),
		zap.String("session_id", ev.SessionID),
		zap.String("course_id", meta.CourseID),
		zap.String("email", meta.Email),
	)
	err := s.ledger.Record(ctx, &models.UnreconciledEvent{
		ID:        uuid.NewString(),
		EventID:   ev.ID,
		SessionID: ev.SessionID,
		Email:     meta.Email,
		Name:      meta.Name,
		CourseID:  meta.CourseID,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		log.Error("Failed to record unreconciled event", zap.Error(err))
		return &WebhookResult{Outcome: OutcomeFailed, EventID: ev.ID}
	}
	s.count(ctx, aws_pkg.MetricUnreconciledEvents, map[string]string{"Reason": reason})
	return &WebhookResult{Outcome: OutcomeUnreconciled, EventID: ev.ID, CourseID: meta.CourseID}
}

func (s *webhookServiceImpl) publishIssued(ctx context.Context, log *zap.Logger, rec *models.AccessCode, course catalog.Course) {
	if s.snsClient == nil || s.snsTopicArn == "" {
		return
	}
	payload, err := json.Marshal(models.AccessCodeIssuedEvent{
		EventType:  "access_code_issued",
		Code:       rec.Code,
		Email:      rec.Email,
		Name:       rec.Name,
		CourseID:   rec.CourseID,
		CourseName: course.Name,
		SessionID:  rec.SourceSessionID,
		Timestamp:  rec.CreatedAt,
	})
	if err != nil {
		log.Error("Failed to marshal access code event", zap.Error(err))
		return
	}
	if err := s.snsClient.Publish(ctx, s.snsTopicArn, payload); err != nil {
		log.Error("Failed to publish access code event to SNS",
			zap.String("course_id", rec.CourseID),
			zap.Error(err),
		)
	}
}

func (s *webhookServiceImpl) count(ctx context.Context, metric string, dims map[string]string) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.RecordCount(ctx, metric, dims)
}
