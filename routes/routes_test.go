package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"github.com/yashrajoria/course-access-service/catalog"
	"github.com/yashrajoria/course-access-service/common/auth"
	"github.com/yashrajoria/course-access-service/controllers"
	"github.com/yashrajoria/course-access-service/models"
	"github.com/yashrajoria/course-access-service/repository"
	"github.com/yashrajoria/course-access-service/routes"
	"github.com/yashrajoria/course-access-service/services"
	"go.uber.org/zap"
)

const (
	webhookSecret = "whsec_routes_test"
	adminSecret   = "admin-secret"
	clientURL     = "http://localhost:5173"
)

type testServer struct {
	router    *gin.Engine
	store     *repository.FileAccessCodeRepository
	stripeReq chan map[string]string
}

func newTestServer(t *testing.T, ratePerMinute, burst int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{stripeReq: make(chan map[string]string, 16)}
	stripeAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form := map[string]string{}
		for k, v := range r.PostForm {
			form[k] = v[0]
		}
		ts.stripeReq <- form
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_e2e","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_e2e"}`))
	}))
	t.Cleanup(stripeAPI.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(stripeAPI.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	provider := services.NewStripeProvider("sk_test_e2e", webhookSecret,
		&stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	store, err := repository.NewFileAccessCodeRepository(filepath.Join(t.TempDir(), "accessCodes.json"))
	require.NoError(t, err)
	ts.store = store

	courses := catalog.Default()
	log := zap.NewNop()
	ts.router = routes.NewRouter(routes.RouterConfig{
		Checkout: controllers.NewCheckoutController(
			services.NewCheckoutService(provider, courses, clientURL, "usd", nil, log), courses),
		Webhook: controllers.NewWebhookController(
			services.NewWebhookService(provider, courses, store, store, nil, "", nil, log)),
		Verify:                controllers.NewVerifyController(services.NewVerifyService(store, nil, nil, log)),
		Admin:                 controllers.NewAdminController(store, store),
		AdminTokens:           auth.NewTokenValidator(adminSecret),
		Logger:                log,
		ClientURL:             clientURL,
		CheckoutRatePerMinute: ratePerMinute,
		CheckoutRateBurst:     burst,
	})
	return ts
}

func (ts *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func completedEvent(t *testing.T, eventID string, metadata map[string]string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": "2024-06-20",
		"type":        "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{
			"id":             "cs_" + eventID,
			"object":         "checkout.session",
			"payment_status": "paid",
			"customer_email": metadata["email"],
			"metadata":       metadata,
		}},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload, Secret: webhookSecret, Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func adminBearer(t *testing.T) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + signed}
}

func TestPurchaseFlow(t *testing.T) {
	ts := newTestServer(t, 60, 10)

	// 1. Checkout
	w := ts.do(http.MethodPost, "/api/create-checkout-session",
		[]byte(`{"name":"Ana","email":"ana@x.com","courseId":"prompt-engineering","priceCents":1}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_test_e2e"}`, w.Body.String())

	form := <-ts.stripeReq
	assert.Equal(t, "9700", form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, "prompt-engineering", form["metadata[courseId]"])
	assert.Equal(t, clientURL+"/success?session_id={CHECKOUT_SESSION_ID}&course=prompt-engineering", form["success_url"])

	// 2. Completion webhook, delivered twice
	payload, header := completedEvent(t, "evt_e2e", map[string]string{
		"name": "Ana", "email": "ana@x.com", "courseId": "prompt-engineering",
	})
	for i := 0; i < 2; i++ {
		w = ts.do(http.MethodPost, "/api/webhook", payload, map[string]string{"Stripe-Signature": header})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
	}

	// 3. Support lookup finds exactly one code
	w = ts.do(http.MethodGet, "/api/admin/access-codes?email=ana@x.com", nil, adminBearer(t))
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		AccessCodes []models.AccessCode `json:"access_codes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.AccessCodes, 1)
	code := listed.AccessCodes[0].Code

	// 4. Verify
	w = ts.do(http.MethodPost, "/api/verify-code", []byte(fmt.Sprintf(`{"code":%q}`, code)), nil)
	assert.JSONEq(t, `{"valid":true,"courseId":"prompt-engineering"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/verify-code", []byte(fmt.Sprintf(`{"code":%q,"courseId":"ai-agents"}`, code)), nil)
	assert.JSONEq(t, `{"valid":false}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/verify-code", []byte(`{"code":"not-a-real-code"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":false}`, w.Body.String())
}

func TestWebhook_InvalidSignature(t *testing.T) {
	ts := newTestServer(t, 60, 10)
	payload, _ := completedEvent(t, "evt_forged", map[string]string{"email": "eve@x.com", "courseId": "ai-agents"})

	w := ts.do(http.MethodPost, "/api/webhook", payload, map[string]string{"Stripe-Signature": "t=1,v1=00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid webhook signature"}`, w.Body.String())

	recs, err := ts.store.FindByEmail(context.Background(), "eve@x.com")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestWebhook_MissingCourseGoesToReconciliation(t *testing.T) {
	ts := newTestServer(t, 60, 10)
	payload, header := completedEvent(t, "evt_nocourse", map[string]string{"email": "bo@x.com"})

	w := ts.do(http.MethodPost, "/api/webhook", payload, map[string]string{"Stripe-Signature": header})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/admin/reconciliation", nil, adminBearer(t))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []models.UnreconciledEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, models.ReasonMissingCourseID, body.Events[0].Reason)
}

func TestCheckout_RateLimited(t *testing.T) {
	ts := newTestServer(t, 1, 1)
	body := []byte(`{"name":"Ana","email":"ana@x.com","courseId":"ai-agents"}`)

	w := ts.do(http.MethodPost, "/api/create-checkout-session", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(http.MethodPost, "/api/create-checkout-session", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Other routes are not limited.
	w = ts.do(http.MethodPost, "/api/verify-code", []byte(`{"code":"x"}`), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, 60, 10)

	for _, path := range []string{"/api/admin/access-codes?email=a@b.co", "/api/admin/reconciliation"} {
		w := ts.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestHealthAndCourses(t *testing.T) {
	ts := newTestServer(t, 60, 10)

	w := ts.do(http.MethodGet, "/health", nil, nil)
	assert.JSONEq(t, `{"status":"healthy","service":"course-access-service"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do(http.MethodGet, "/api/courses", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"priceCents":14700`)
}

func TestCORSAllowsClientOrigin(t *testing.T) {
	ts := newTestServer(t, 60, 10)

	req := httptest.NewRequest(http.MethodOptions, "/api/verify-code", nil)
	req.Header.Set("Origin", clientURL)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, clientURL, w.Header().Get("Access-Control-Allow-Origin"))
}
