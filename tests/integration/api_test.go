package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	httpHandler "sbtc-gateway/internal/adapter/http/handler"
	redisStorage "sbtc-gateway/internal/adapter/storage/redis"
	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/service"
	"sbtc-gateway/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAESKey         = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testChainhookToken = "chainhook-shared-token"
)

// testApp builds the full application stack on in-memory storage:
// miniredis behind the real Redis stores, map-backed postgres repos,
// and the real HTTP layer, middleware, services and delivery pipeline.
type testApp struct {
	server       *httptest.Server
	redis        *miniredis.Miniredis
	merchantRepo *inMemoryMerchantRepo
	intentRepo   *inMemoryPaymentIntentRepo
	endpointRepo *inMemoryEndpointRepo
	eventRepo    *inMemoryEventRepo
	sigSvc       *service.HMACSignatureService
	tokenSvc     *service.JWTTokenService
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	retryQueue := redisStorage.NewRetryQueue(rdb)
	seenTxCache := redisStorage.NewSeenTxCache(rdb)

	encSvc, err := service.NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 24*time.Hour, "test-issuer")

	merchantRepo := newInMemoryMerchantRepo()
	intentRepo := newInMemoryPaymentIntentRepo()
	endpointRepo := newInMemoryEndpointRepo()
	eventRepo := newInMemoryEventRepo()

	log := logger.New("debug", false)
	deliverySvc := service.NewDeliveryService(eventRepo, endpointRepo, merchantRepo, encSvc, sigSvc, retryQueue, log)
	dispatchSvc := service.NewDispatchService(endpointRepo, merchantRepo, eventRepo, deliverySvc, log)
	endpointSvc := service.NewEndpointService(endpointRepo, merchantRepo, encSvc, dispatchSvc, log)
	matcherSvc := service.NewMatcherService(intentRepo, log)
	transitionSvc := service.NewTransitionService(intentRepo, dispatchSvc, log)
	ingestSvc := service.NewIngestService(matcherSvc, transitionSvc, seenTxCache, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:      ingestSvc,
		EndpointSvc:    endpointSvc,
		EventRepo:      eventRepo,
		IntentRepo:     intentRepo,
		TokenSvc:       tokenSvc,
		ChainhookToken: testChainhookToken,
		Logger:         log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{
		server:       server,
		redis:        mr,
		merchantRepo: merchantRepo,
		intentRepo:   intentRepo,
		endpointRepo: endpointRepo,
		eventRepo:    eventRepo,
		sigSvc:       sigSvc,
		tokenSvc:     tokenSvc,
	}
}

func (a *testApp) seedMerchant(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	a.merchantRepo.put(&domain.Merchant{
		ID:        id,
		Name:      "Test Shop",
		Status:    domain.MerchantStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	return id
}

func (a *testApp) seedOpenIntent(merchantID uuid.UUID, id string, amount int64, recipient string) {
	a.intentRepo.put(&domain.PaymentIntent{
		ID:         id,
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   "sbtc",
		Status:     domain.PaymentIntentStatusCreated,
		Metadata:   map[string]string{domain.MetadataRecipientKey: recipient},
		CreatedAt:  time.Now().Add(-time.Minute),
		UpdatedAt:  time.Now().Add(-time.Minute),
	})
}

func (a *testApp) dashboardToken(t *testing.T, merchantID uuid.UUID) string {
	t.Helper()
	token, _, err := a.tokenSvc.Generate(merchantID)
	require.NoError(t, err)
	return token
}

func (a *testApp) doJSON(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	data, _ := envelope["data"].(map[string]interface{})
	return data
}

// sbtcBatch builds a chainhook apply batch carrying one successful sBTC
// transfer.
func sbtcBatch(txID string, amount int64, recipient string) map[string]any {
	return map[string]any{
		"apply": []map[string]any{{
			"block_identifier":        map[string]any{"index": 4200, "hash": "0xblock4200"},
			"parent_block_identifier": map[string]any{"index": 4199, "hash": "0xblock4199"},
			"timestamp":               time.Now().Unix(),
			"transactions": []map[string]any{{
				"transaction_identifier": map[string]any{"hash": txID},
				"metadata": map[string]any{
					"success": true,
					"sender":  "SP2CUSTOMER",
					"fee":     180,
					"result":  "(ok true)",
					"receipt": map[string]any{
						"events": []map[string]any{{
							"type": "FTTransferEvent",
							"data": map[string]any{
								"asset_identifier": "SP4K.sbtc-token::sbtc-token",
								"amount":           fmt.Sprintf("%d", amount),
								"sender":           "SP2CUSTOMER",
								"recipient":        recipient,
							},
						}},
					},
				},
			}},
		}},
		"rollback": []map[string]any{},
	}
}

// webhookReceiver is an httptest server capturing merchant deliveries.
type webhookReceiver struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []receivedDelivery
	notify   chan struct{}
}

type receivedDelivery struct {
	body      []byte
	signature string
	eventID   string
	eventType string
}

func newWebhookReceiver(t *testing.T) *webhookReceiver {
	t.Helper()
	r := &webhookReceiver{notify: make(chan struct{}, 16)}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, receivedDelivery{
			body:      body,
			signature: req.Header.Get("X-SBTC-Signature"),
			eventID:   req.Header.Get("X-SBTC-Event-Id"),
			eventType: req.Header.Get("X-SBTC-Event-Type"),
		})
		r.mu.Unlock()
		r.notify <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *webhookReceiver) waitForDelivery(t *testing.T) receivedDelivery {
	t.Helper()
	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func (r *webhookReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// --- Integration Tests ---

func TestIntegration_ChainhookAuth(t *testing.T) {
	app := newTestApp(t)

	resp := app.doJSON(t, http.MethodPost, "/api/v1/chainhook", "wrong-token", map[string]any{"apply": []any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2 := app.doJSON(t, http.MethodPost, "/api/v1/chainhook", testChainhookToken, map[string]any{"apply": []any{}})
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestIntegration_PaymentSettlementEndToEnd(t *testing.T) {
	app := newTestApp(t)
	receiver := newWebhookReceiver(t)

	merchantID := app.seedMerchant(t)
	app.seedOpenIntent(merchantID, "pi_e2e", 50000, "SP3SHOP")
	token := app.dashboardToken(t, merchantID)

	// Register an endpoint subscribed to settlement events. The
	// signing secret is returned exactly once.
	resp := app.doJSON(t, http.MethodPost, "/api/v1/webhook-endpoints", token, map[string]any{
		"url":               receiver.server.URL,
		"subscribed_events": []string{"payment_intent.succeeded", "payment_intent.failed"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData(t, resp)
	secret, _ := created["secret"].(string)
	require.NotEmpty(t, secret)

	// Deliver the confirmed block.
	resp = app.doJSON(t, http.MethodPost, "/api/v1/chainhook", testChainhookToken,
		sbtcBatch("0xsettle", 50000, "SP3SHOP"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decodeData(t, resp)
	assert.Equal(t, float64(1), summary["matched"])

	// The signed webhook arrives at the merchant endpoint.
	delivery := receiver.waitForDelivery(t)
	assert.Equal(t, "payment_intent.succeeded", delivery.eventType)
	assert.True(t, app.sigSvc.Verify(delivery.body, delivery.signature, secret),
		"delivery signature must verify against the creation-time secret")

	var payload domain.EventPayload
	require.NoError(t, json.Unmarshal(delivery.body, &payload))
	assert.Equal(t, delivery.eventID, payload.ID)

	// The intent is now terminal with the chain context recorded.
	resp = app.doJSON(t, http.MethodGet, "/api/v1/payment-intents/pi_e2e", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	intent := decodeData(t, resp)
	assert.Equal(t, "succeeded", intent["status"])
	assert.Equal(t, "0xsettle", intent["tx_id"])
	metadata, _ := intent["metadata"].(map[string]interface{})
	assert.Equal(t, "4200", metadata["block_height"])

	// The audit listing shows the delivered event.
	assertEventuallyDelivered(t, app, merchantID, token)
}

func assertEventuallyDelivered(t *testing.T, app *testApp, merchantID uuid.UUID, token string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := app.doJSON(t, http.MethodGet, "/api/v1/webhook-events", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		events, _ := data["events"].([]interface{})
		if len(events) == 1 {
			ev := events[0].(map[string]interface{})
			if ev["delivered"] == true {
				assert.Equal(t, float64(1), ev["attempts"])
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("webhook event never showed as delivered in the audit listing")
}

func TestIntegration_DuplicateBatchIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	receiver := newWebhookReceiver(t)

	merchantID := app.seedMerchant(t)
	app.seedOpenIntent(merchantID, "pi_dup", 70000, "SP3SHOP")
	token := app.dashboardToken(t, merchantID)

	resp := app.doJSON(t, http.MethodPost, "/api/v1/webhook-endpoints", token, map[string]any{
		"url":               receiver.server.URL,
		"subscribed_events": []string{"payment_intent.succeeded"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	batch := sbtcBatch("0xdup", 70000, "SP3SHOP")

	resp = app.doJSON(t, http.MethodPost, "/api/v1/chainhook", testChainhookToken, batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeData(t, resp)
	assert.Equal(t, float64(1), first["matched"])

	receiver.waitForDelivery(t)

	// Chainhook redelivers the same batch. The dedupe fast path skips
	// the transaction; nothing new is dispatched.
	resp = app.doJSON(t, http.MethodPost, "/api/v1/chainhook", testChainhookToken, batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeData(t, resp)
	assert.Equal(t, float64(0), second["matched"])
	assert.Equal(t, float64(1), second["skipped"])

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, receiver.count(), "duplicate batch must not trigger a second delivery")

	events := app.eventRepo.snapshot()
	assert.Len(t, events, 1)
}

func TestIntegration_LegacyWebhookFallback(t *testing.T) {
	app := newTestApp(t)
	receiver := newWebhookReceiver(t)

	// Merchant predates endpoint registration: only the single-URL
	// pair is configured.
	encSvc, err := service.NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	secretEnc, err := encSvc.Encrypt("whsec_legacy")
	require.NoError(t, err)

	merchantID := uuid.New()
	url := receiver.server.URL
	app.merchantRepo.put(&domain.Merchant{
		ID:               merchantID,
		Name:             "Legacy Shop",
		WebhookURL:       &url,
		WebhookSecretEnc: &secretEnc,
		Status:           domain.MerchantStatusActive,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	})
	app.seedOpenIntent(merchantID, "pi_legacy", 30000, "SP3SHOP")

	resp := app.doJSON(t, http.MethodPost, "/api/v1/chainhook", testChainhookToken,
		sbtcBatch("0xlegacy", 30000, "SP3SHOP"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	delivery := receiver.waitForDelivery(t)
	assert.Equal(t, "payment_intent.succeeded", delivery.eventType)
	assert.True(t, app.sigSvc.Verify(delivery.body, delivery.signature, "whsec_legacy"))
}

func TestIntegration_TestEventDelivery(t *testing.T) {
	app := newTestApp(t)
	receiver := newWebhookReceiver(t)

	merchantID := app.seedMerchant(t)
	token := app.dashboardToken(t, merchantID)

	resp := app.doJSON(t, http.MethodPost, "/api/v1/webhook-endpoints", token, map[string]any{
		"url":               receiver.server.URL,
		"subscribed_events": []string{"payment_intent.succeeded"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeData(t, resp)
	endpointID, _ := created["id"].(string)

	// endpoint.test bypasses the subscription filter.
	resp = app.doJSON(t, http.MethodPost, "/api/v1/webhook-endpoints/"+endpointID+"/test", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	delivery := receiver.waitForDelivery(t)
	assert.Equal(t, "endpoint.test", delivery.eventType)
}

func TestIntegration_DashboardRequiresJWT(t *testing.T) {
	app := newTestApp(t)

	resp := app.doJSON(t, http.MethodGet, "/api/v1/webhook-events", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
