package services_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"
	"github.com/yashrajoria/course-access-service/repository"
)

const testWebhookSecret = "whsec_test_secret"

// ---- recording collaborators ----

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	return nil
}

func (m *recordingMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}

func (m *recordingMetrics) IsEnabled() bool { return true }

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type mockSNSPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (p *mockSNSPublisher) Publish(_ context.Context, _ string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return p.err
}

func newFileStore(t *testing.T) *repository.FileAccessCodeRepository {
	t.Helper()
	store, err := repository.NewFileAccessCodeRepository(filepath.Join(t.TempDir(), "accessCodes.json"))
	require.NoError(t, err)
	return store
}

// ---- signed webhook payloads ----

type sessionFixture struct {
	EventID       string
	EventType     string
	SessionID     string
	PaymentStatus string
	CustomerEmail string
	DetailsEmail  string
	DetailsName   string
	Metadata      map[string]string
}

func (f sessionFixture) payload(t *testing.T) []byte {
	t.Helper()
	if f.EventType == "" {
		f.EventType = "checkout.session.completed"
	}
	if f.PaymentStatus == "" {
		f.PaymentStatus = "paid"
	}
	session := map[string]any{
		"id":             f.SessionID,
		"object":         "checkout.session",
		"payment_status": f.PaymentStatus,
		"metadata":       f.Metadata,
	}
	if f.CustomerEmail != "" {
		session["customer_email"] = f.CustomerEmail
	}
	if f.DetailsEmail != "" || f.DetailsName != "" {
		session["customer_details"] = map[string]any{"email": f.DetailsEmail, "name": f.DetailsName}
	}
	body, err := json.Marshal(map[string]any{
		"id":          f.EventID,
		"object":      "event",
		"api_version": "2024-06-20",
		"type":        f.EventType,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return body
}

func sign(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}
