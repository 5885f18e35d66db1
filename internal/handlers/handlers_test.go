package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/handlers"
	"github.com/contractear/contractear-api/internal/models"
	"github.com/contractear/contractear-api/internal/payments"
	"github.com/contractear/contractear-api/internal/routes"
	"github.com/contractear/contractear-api/internal/services"
	"github.com/contractear/contractear-api/internal/storage"
	"github.com/contractear/contractear-api/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "jwt-test-secret"
	webhookSecret = "whsec_test"
)

type stubGateway struct {
	mu        sync.Mutex
	paid      bool
	verifyErr error
}

func (g *stubGateway) CreateTransaction(context.Context, payments.TransactionRequest) (string, error) {
	return "txn_" + uuid.NewString()[:8], nil
}

func (g *stubGateway) VerifyTransaction(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid, g.verifyErr
}

type countingDispatcher struct {
	mu sync.Mutex
	n  int
}

func (d *countingDispatcher) Dispatch(context.Context, uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return nil
}

type env struct {
	app        *fiber.App
	store      *store.MemoryStore
	gateway    *stubGateway
	dispatcher *countingDispatcher
}

func newEnv(t *testing.T, prices models.PriceIDs) *env {
	t.Helper()
	e := &env{
		store:      store.NewMemoryStore(),
		gateway:    &stubGateway{},
		dispatcher: &countingDispatcher{},
	}
	usage := services.NewUsageService(e.store)
	analyses := services.NewAnalysisService(services.AnalysisDeps{
		Store:      e.store,
		Usage:      usage,
		Gateway:    e.gateway,
		Dispatcher: e.dispatcher,
		Audio:      storage.NewMemoryStore(),
		Prices:     prices,
		AppURL:     "https://app.example.com",
	})
	webhooks := services.NewWebhookService(e.store, analyses, webhookSecret)

	e.app = fiber.New(fiber.Config{BodyLimit: 26 * 1024 * 1024})
	routes.Setup(e.app, &config.Config{JWTSecret: jwtSecret}, routes.Handlers{
		Analysis: handlers.NewAnalysisHandler(analyses),
		Checkout: handlers.NewCheckoutHandler(analyses),
		Profile:  handlers.NewProfileHandler(usage),
		Webhook:  handlers.NewWebhookHandler(webhooks),
		Health:   handlers.NewHealthHandler(e.store),
	}, usage)
	return e
}

func defaultPrices() models.PriceIDs {
	return models.PriceIDs{models.PlanSingle: "pri_single", models.PlanBasic: "pri_basic", models.PlanPro: "pri_pro"}
}

func (e *env) user(plan models.PlanTier, used, limit int) uuid.UUID {
	id := uuid.New()
	e.store.PutProfile(models.Profile{
		ID:                id,
		Plan:              plan,
		AnalysesUsed:      used,
		AnalysesLimit:     limit,
		BillingCycleStart: time.Now(),
	})
	return id
}

func bearer(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID.String(),
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (e *env) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func jsonReq(t *testing.T, method, path string, userID uuid.UUID, payload interface{}) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	return req
}

func uploadReq(t *testing.T, userID uuid.UUID, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="call.mp3"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write([]byte("ID3 fake audio"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, userID))
	return req
}

func (e *env) pending(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	userID := e.user(models.PlanSingle, 0, 0)
	status, body := e.do(t, uploadReq(t, userID, "audio/mpeg"))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["requiresPayment"])
	id := body["id"].(string)

	status, body = e.do(t, jsonReq(t, "POST", "/api/create-checkout", userID, map[string]string{"analysisId": id}))
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["transactionId"])
	return userID, id
}

func TestUpload(t *testing.T) {
	e := newEnv(t, defaultPrices())

	status, body := e.do(t, uploadReq(t, e.user(models.PlanBasic, 0, 20), "audio/mpeg"))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["requiresPayment"])
	assert.Equal(t, 1, e.dispatcher.n)

	status, _ = e.do(t, uploadReq(t, e.user(models.PlanBasic, 0, 20), "application/pdf"))
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = e.do(t, uploadReq(t, e.user(models.PlanBasic, 20, 20), "audio/mpeg"))
	assert.Equal(t, fiber.StatusForbidden, status)

	// first request with a fresh identity bootstraps a plan-less profile
	status, body = e.do(t, uploadReq(t, uuid.New(), "audio/mpeg"))
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, true, body["error"])
}

func TestUpload_RequiresToken(t *testing.T) {
	e := newEnv(t, defaultPrices())
	req := uploadReq(t, uuid.New(), "audio/mpeg")
	req.Header.Del("Authorization")

	status, _ := e.do(t, req)

	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestConfirmPayment(t *testing.T) {
	e := newEnv(t, defaultPrices())
	userID, id := e.pending(t)

	status, _ := e.do(t, jsonReq(t, "POST", "/api/confirm-payment", userID, map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusPaymentRequired, status)

	e.gateway.verifyErr = errors.New("timeout")
	status, _ = e.do(t, jsonReq(t, "POST", "/api/confirm-payment", userID, map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	e.gateway.verifyErr = nil
	e.gateway.paid = true
	status, body := e.do(t, jsonReq(t, "POST", "/api/confirm-payment", userID, map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "processing", body["status"])

	status, _ = e.do(t, jsonReq(t, "POST", "/api/confirm-payment", e.user(models.PlanNone, 0, 0), map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = e.do(t, jsonReq(t, "POST", "/api/confirm-payment", userID, map[string]string{"analysisId": uuid.NewString()}))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = e.do(t, jsonReq(t, "POST", "/api/confirm-payment", userID, map[string]string{}))
	assert.Equal(t, fiber.StatusBadRequest, status)

	assert.Equal(t, 1, e.dispatcher.n)
}

func TestStatusPoll(t *testing.T) {
	e := newEnv(t, defaultPrices())
	_, id := e.pending(t)

	status, body := e.do(t, httptest.NewRequest("GET", "/api/analysis?id="+id, nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "call.mp3", body["fileName"])
	assert.Contains(t, body, "result")
	assert.Contains(t, body, "error")
	assert.Contains(t, body, "createdAt")
	assert.Nil(t, body["result"])

	status, _ = e.do(t, httptest.NewRequest("GET", "/api/analysis?id="+uuid.NewString(), nil))
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = e.do(t, httptest.NewRequest("GET", "/api/analysis?id=nope", nil))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func signedWebhook(body []byte, header string) *http.Request {
	req := httptest.NewRequest("POST", "/api/webhooks/paddle", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set("Paddle-Signature", header)
	}
	return req
}

func TestWebhook(t *testing.T) {
	e := newEnv(t, defaultPrices())
	userID, id := e.pending(t)
	body := []byte(`{"event_id":"evt_1","event_type":"transaction.completed","data":{"id":"txn_1","custom_data":{"analysis_id":"` + id + `","user_id":"` + userID.String() + `"},"details":{"totals":{"grand_total":"399"}}}}`)
	ts := "1700000000"

	status, _ := e.do(t, signedWebhook(body, ""))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = e.do(t, signedWebhook(body, "ts="+ts))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = e.do(t, signedWebhook(body, payments.SignWebhook(body, ts, "wrong")))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	a, err := e.store.GetAnalysis(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Empty(t, e.store.BillingRecords())

	status, resp := e.do(t, signedWebhook(body, payments.SignWebhook(body, ts, webhookSecret)))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, resp["received"])

	status, _ = e.do(t, signedWebhook(body, payments.SignWebhook(body, ts, webhookSecret)))
	assert.Equal(t, fiber.StatusOK, status)

	a, err = e.store.GetAnalysis(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, a.Status)
	assert.Equal(t, 1, e.dispatcher.n)
	assert.Len(t, e.store.BillingRecords(), 1)

	junk := []byte(`not json`)
	status, _ = e.do(t, signedWebhook(junk, payments.SignWebhook(junk, ts, webhookSecret)))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestWebhook_ConcurrentDeliveryGetsConflict(t *testing.T) {
	e := newEnv(t, defaultPrices())
	userID, id := e.pending(t)
	body := []byte(`{"event_id":"evt_slow","event_type":"transaction.completed","data":{"id":"txn_1","custom_data":{"analysis_id":"` + id + `","user_id":"` + userID.String() + `"}}}`)
	claim, err := e.store.ClaimWebhookEvent(context.Background(), &models.WebhookEvent{EventID: "evt_slow", Payload: body}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, store.ClaimAcquired, claim)

	status, _ := e.do(t, signedWebhook(body, payments.SignWebhook(body, "1700000000", webhookSecret)))

	assert.Equal(t, fiber.StatusConflict, status)
	assert.Empty(t, e.store.BillingRecords())
	assert.Equal(t, 0, e.dispatcher.n)
}

func TestCheckoutEndpoints(t *testing.T) {
	e := newEnv(t, defaultPrices())
	userID := e.user(models.PlanNone, 0, 0)

	status, body := e.do(t, jsonReq(t, "POST", "/api/create-subscription", userID, map[string]string{"tier": "basic"}))
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, strings.HasPrefix(body["transactionId"].(string), "txn_"))

	status, _ = e.do(t, jsonReq(t, "POST", "/api/create-subscription", userID, map[string]string{"tier": "gold"}))
	assert.Equal(t, fiber.StatusBadRequest, status)

	bare := newEnv(t, models.PriceIDs{})
	status, body = bare.do(t, jsonReq(t, "POST", "/api/create-subscription", bare.user(models.PlanNone, 0, 0), map[string]string{"tier": "pro"}))
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Price not configured", body["message"])
}

func TestProfileAndReadViews(t *testing.T) {
	e := newEnv(t, defaultPrices())
	userID := uuid.New()

	status, body := e.do(t, jsonReq(t, "GET", "/api/profile", userID, nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "none", body["plan"])
	assert.Equal(t, "user@example.com", body["email"])

	e.store.PutProfile(models.Profile{ID: userID, Plan: models.PlanBasic, AnalysesLimit: 20, BillingCycleStart: time.Now()})
	status, _ = e.do(t, uploadReq(t, userID, "audio/mpeg"))
	require.Equal(t, fiber.StatusOK, status)

	resp, err := e.app.Test(jsonReq(t, "GET", "/api/user-analyses", userID, nil), -1)
	require.NoError(t, err)
	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "processing", list[0]["status"])

	resp, err = e.app.Test(jsonReq(t, "GET", "/api/usage-logs", userID, nil), -1)
	require.NoError(t, err)
	var logs []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	assert.Len(t, logs, 1)

	status, body = e.do(t, jsonReq(t, "GET", "/api/usage-stats", userID, nil))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	id := list[0]["id"].(string)
	status, _ = e.do(t, jsonReq(t, "DELETE", "/api/delete-analysis", uuid.New(), map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = e.do(t, jsonReq(t, "DELETE", "/api/delete-analysis", userID, map[string]string{"analysisId": id}))
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, defaultPrices())

	status, body := e.do(t, httptest.NewRequest("GET", "/api/health", nil))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["db"])
}
