package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/course-access-service/catalog"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"github.com/yashrajoria/course-access-service/repository"
	"github.com/yashrajoria/course-access-service/services"
	"go.uber.org/zap"
)

type webhookFixture struct {
	store   *repository.FileAccessCodeRepository
	sns     *mockSNSPublisher
	metrics *recordingMetrics
	svc     services.WebhookService
}

func newWebhookFixture(t *testing.T, opts ...services.WebhookOption) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		store:   newFileStore(t),
		sns:     &mockSNSPublisher{},
		metrics: newRecordingMetrics(),
	}
	provider := services.NewStripeProvider("sk_test_123", testWebhookSecret, nil)
	f.svc = services.NewWebhookService(provider, catalog.Default(), f.store, f.store,
		f.sns, "arn:aws:sns:us-east-1:000000000000:access-events", f.metrics, zap.NewNop(), opts...)
	return f
}

func (f *webhookFixture) deliver(t *testing.T, fixture sessionFixture) *services.WebhookResult {
	t.Helper()
	payload := fixture.payload(t)
	res, err := f.svc.HandleCompletionEvent(context.Background(), payload, sign(t, payload))
	require.NoError(t, err)
	return res
}

func paidSession(eventID string) sessionFixture {
	return sessionFixture{
		EventID:       eventID,
		SessionID:     "cs_" + eventID,
		CustomerEmail: "ana@x.com",
		Metadata:      map[string]string{"name": "Ana", "email": "ana@x.com", "courseId": "prompt-engineering"},
	}
}

func TestHandleCompletionEvent_IssuesCode(t *testing.T) {
	f := newWebhookFixture(t)

	res := f.deliver(t, paidSession("evt_1"))
	assert.Equal(t, services.OutcomeIssued, res.Outcome)
	assert.Equal(t, "prompt-engineering", res.CourseID)
	assert.Len(t, res.Code, 36)

	rec, err := f.store.FindByCode(context.Background(), res.Code)
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", rec.Email)
	assert.Equal(t, "Ana", rec.Name)
	assert.Equal(t, "prompt-engineering", rec.CourseID)
	assert.Equal(t, "cs_evt_1", rec.SourceSessionID)
	assert.Equal(t, "evt_1", rec.SourceEventID)

	require.Len(t, f.sns.messages, 1)
	var published models.AccessCodeIssuedEvent
	require.NoError(t, json.Unmarshal(f.sns.messages[0], &published))
	assert.Equal(t, "access_code_issued", published.EventType)
	assert.Equal(t, res.Code, published.Code)
	assert.Equal(t, "Prompt Engineering Masterclass", published.CourseName)
	assert.Equal(t, 1, f.metrics.count(aws_pkg.MetricAccessCodesIssued))
}

func TestHandleCompletionEvent_RedeliveryIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)

	first := f.deliver(t, paidSession("evt_1"))
	second := f.deliver(t, paidSession("evt_1"))

	assert.Equal(t, services.OutcomeIssued, first.Outcome)
	assert.Equal(t, services.OutcomeDuplicate, second.Outcome)

	recs, err := f.store.FindByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Len(t, f.sns.messages, 1)
	assert.Equal(t, 1, f.metrics.count(aws_pkg.MetricWebhookDuplicates))
}

func TestHandleCompletionEvent_DistinctEventsGetDistinctCodes(t *testing.T) {
	f := newWebhookFixture(t)

	a := f.deliver(t, paidSession("evt_a"))
	b := f.deliver(t, paidSession("evt_b"))
	assert.NotEqual(t, a.Code, b.Code)
}

func TestHandleCompletionEvent_ConcurrentDeliveries(t *testing.T) {
	f := newWebhookFixture(t)

	const n = 20
	codes := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		payload := paidSession(fmt.Sprintf("evt_%d", i)).payload(t)
		header := sign(t, payload)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.HandleCompletionEvent(context.Background(), payload, header)
			if assert.NoError(t, err) {
				codes[i] = res.Code
			}
		}(i)
	}
	wg.Wait()

	recs, err := f.store.FindByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Len(t, recs, n)

	seen := make(map[string]bool)
	for _, c := range codes {
		assert.NotEmpty(t, c)
		assert.False(t, seen[c], "code issued twice: %s", c)
		seen[c] = true
	}
}

func TestHandleCompletionEvent_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	payload := paidSession("evt_1").payload(t)

	res, err := f.svc.HandleCompletionEvent(context.Background(), payload, "t=1,v1=forged")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrSignatureInvalid)
	assert.Equal(t, 400, apperrors.StatusCode(err))

	recs, err := f.store.FindByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 1, f.metrics.count(aws_pkg.MetricWebhookSignatureFailed))
}

func TestHandleCompletionEvent_IgnoresIrrelevantEvents(t *testing.T) {
	f := newWebhookFixture(t)

	unpaid := paidSession("evt_unpaid")
	unpaid.PaymentStatus = "unpaid"
	other := paidSession("evt_other")
	other.EventType = "customer.created"

	for _, fx := range []sessionFixture{unpaid, other} {
		res := f.deliver(t, fx)
		assert.Equal(t, services.OutcomeIgnored, res.Outcome, fx.EventID)
	}
	recs, err := f.store.FindByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHandleCompletionEvent_AsyncPaymentSucceeded(t *testing.T) {
	f := newWebhookFixture(t)

	fx := paidSession("evt_async")
	fx.EventType = "checkout.session.async_payment_succeeded"
	res := f.deliver(t, fx)
	assert.Equal(t, services.OutcomeIssued, res.Outcome)
}

func TestHandleCompletionEvent_EmailFallback(t *testing.T) {
	tests := []struct {
		name    string
		fixture sessionFixture
		email   string
		person  string
	}{
		{
			name: "customer_email",
			fixture: sessionFixture{
				EventID: "evt_1", SessionID: "cs_1", CustomerEmail: "Buyer@Example.com",
				Metadata: map[string]string{"courseId": "ai-agents"},
			},
			email: "buyer@example.com",
		},
		{
			name: "customer_details",
			fixture: sessionFixture{
				EventID: "evt_2", SessionID: "cs_2", DetailsEmail: "typed@example.com", DetailsName: "Typed",
				Metadata: map[string]string{"courseId": "ai-agents"},
			},
			email:  "typed@example.com",
			person: "Typed",
		},
		{
			name: "no email anywhere",
			fixture: sessionFixture{
				EventID: "evt_3", SessionID: "cs_3",
				Metadata: map[string]string{"courseId": "ai-agents"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)
			res := f.deliver(t, tt.fixture)
			require.Equal(t, services.OutcomeIssued, res.Outcome)

			rec, err := f.store.FindByCode(context.Background(), res.Code)
			require.NoError(t, err)
			assert.Equal(t, tt.email, rec.Email)
			assert.Equal(t, tt.person, rec.Name)
		})
	}
}

func TestHandleCompletionEvent_Unreconciled(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		reason   string
	}{
		{"missing course", map[string]string{"name": "Ana", "email": "ana@x.com"}, models.ReasonMissingCourseID},
		{"unknown course", map[string]string{"email": "ana@x.com", "courseId": "retired-course"}, models.ReasonUnknownCourseID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)
			fx := paidSession("evt_1")
			fx.Metadata = tt.metadata

			res := f.deliver(t, fx)
			assert.Equal(t, services.OutcomeUnreconciled, res.Outcome)

			// Redelivery keeps a single ledger entry.
			f.deliver(t, fx)

			evs, err := f.store.List(context.Background(), 10)
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, tt.reason, evs[0].Reason)
			assert.Equal(t, "evt_1", evs[0].EventID)
			assert.Equal(t, "ana@x.com", evs[0].Email)

			recs, err := f.store.FindByEmail(context.Background(), "ana@x.com")
			require.NoError(t, err)
			assert.Empty(t, recs)
			assert.Empty(t, f.sns.messages)
		})
	}
}

func TestHandleCompletionEvent_RetriesCodeCollision(t *testing.T) {
	codes := []string{"taken-code", "taken-code", "fresh-code"}
	var calls int
	gen := func() (string, error) {
		c := codes[calls]
		calls++
		return c, nil
	}
	f := newWebhookFixture(t, services.WithCodeGenerator(gen))
	require.NoError(t, f.store.Append(context.Background(), &models.AccessCode{
		Code: "taken-code", Email: "old@example.com", CourseID: "ai-agents", CreatedAt: time.Now(), SourceEventID: "evt_old",
	}))

	res := f.deliver(t, paidSession("evt_new"))
	assert.Equal(t, services.OutcomeIssued, res.Outcome)
	assert.Equal(t, "fresh-code", res.Code)
	assert.Equal(t, 3, calls)

	old, err := f.store.FindByCode(context.Background(), "taken-code")
	require.NoError(t, err)
	assert.Equal(t, "old@example.com", old.Email)
}

func TestHandleCompletionEvent_CollisionsExhausted(t *testing.T) {
	f := newWebhookFixture(t, services.WithCodeGenerator(func() (string, error) { return "taken-code", nil }))
	require.NoError(t, f.store.Append(context.Background(), &models.AccessCode{
		Code: "taken-code", CourseID: "ai-agents", CreatedAt: time.Now(), SourceEventID: "evt_old",
	}))

	res := f.deliver(t, paidSession("evt_new"))
	assert.Equal(t, services.OutcomeFailed, res.Outcome)
	assert.Empty(t, f.sns.messages)
}

type failingStore struct{ err error }

func (s failingStore) Append(context.Context, *models.AccessCode) error { return s.err }
func (s failingStore) FindByCode(context.Context, string) (*models.AccessCode, error) {
	return nil, s.err
}
func (s failingStore) FindByEmail(context.Context, string) ([]models.AccessCode, error) {
	return nil, s.err
}

func TestHandleCompletionEvent_StoreFailureIsAcknowledged(t *testing.T) {
	provider := services.NewStripeProvider("sk_test_123", testWebhookSecret, nil)
	store := failingStore{err: errors.New("disk full")}
	svc := services.NewWebhookService(provider, catalog.Default(), store, newFileStore(t), nil, "", nil, zap.NewNop())

	payload := paidSession("evt_1").payload(t)
	res, err := svc.HandleCompletionEvent(context.Background(), payload, sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, services.OutcomeFailed, res.Outcome)
}

func TestHandleCompletionEvent_PublishFailureStillIssues(t *testing.T) {
	f := newWebhookFixture(t)
	f.sns.err = errors.New("sns down")

	res := f.deliver(t, paidSession("evt_1"))
	assert.Equal(t, services.OutcomeIssued, res.Outcome)
	_, err := f.store.FindByCode(context.Background(), res.Code)
	assert.NoError(t, err)
}

func TestHandleCompletionEvent_ProviderNotConfigured(t *testing.T) {
	store := newFileStore(t)
	svc := services.NewWebhookService(nil, catalog.Default(), store, store, nil, "", nil, zap.NewNop())

	_, err := svc.HandleCompletionEvent(context.Background(), []byte(`{}`), "")
	assert.ErrorIs(t, err, apperrors.ErrPaymentProviderUnavailable)
	assert.Equal(t, 503, apperrors.StatusCode(err))
}
