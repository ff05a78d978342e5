package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/internal/payments"
	"github.com/tripnest/tripnest-backend/internal/refunds"
	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type memoryRedis struct {
	data map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryRedis) Ping(context.Context) error { return nil }

type countingRefunder struct{ calls int }

func (c *countingRefunder) Refund(context.Context, refunds.RefundInput) (*models.RefundRecord, error) {
	c.calls++
	return &models.RefundRecord{ID: uuid.New(), ResultingRefundID: fmt.Sprintf("re_%d", c.calls)}, nil
}

type countingAccounts struct{ provisions int }

func (c *countingAccounts) Provision(_ context.Context, input merchants.ProvisionInput) (*models.MerchantAccount, error) {
	c.provisions++
	return &models.MerchantAccount{MerchantID: input.MerchantID, ProcessorAccountID: "acct_1", Status: enums.MerchantAccountPending}, nil
}

func (c *countingAccounts) Account(_ context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error) {
	return &models.MerchantAccount{MerchantID: merchantID, ProcessorAccountID: "acct_1", Status: enums.MerchantAccountActive, ChargesEnabled: true}, nil
}

func (c *countingAccounts) CreateOnboardingLink(context.Context, uuid.UUID) (string, error) {
	return "https://connect.stripe.com/setup/s/abc", nil
}

type stubCheckout struct{}

func (stubCheckout) CreateSession(context.Context, payments.CreateSessionInput) (*payments.SessionHandle, error) {
	return &payments.SessionHandle{SessionID: "cs_1"}, nil
}

type stubReconciler struct{ calls int }

func (s *stubReconciler) Handle(context.Context, []byte, string) error {
	s.calls++
	return nil
}

type routerFixture struct {
	handler    http.Handler
	refunds    *countingRefunder
	accounts   *countingAccounts
	reconciler *stubReconciler
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}}}
	f := routerFixture{
		refunds:    &countingRefunder{},
		accounts:   &countingAccounts{},
		reconciler: &stubReconciler{},
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tripnest_router_test_total", Help: "test"}))
	f.handler = NewRouter(cfg, logger.Nop(), stubPinger{}, newMemoryRedis(), reg, Services{
		Checkout:   stubCheckout{},
		Refunds:    f.refunds,
		Accounts:   f.accounts,
		Reconciler: f.reconciler,
	})
	return f
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	f := newRouterFixture(t)

	if rec := serve(f.handler, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", rec.Code)
	}
	if rec := serve(f.handler, http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	rec := serve(f.handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tripnest_router_test_total") {
		t.Fatalf("metrics: unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	f := newRouterFixture(t)
	rec := serve(f.handler, http.MethodGet, "/health/live", "", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRefundRouteRequiresIdempotencyKey(t *testing.T) {
	f := newRouterFixture(t)
	rec := serve(f.handler, http.MethodPost, "/api/v1/refunds", `{"paymentIntentRef":"pi_1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}
	if f.refunds.calls != 0 {
		t.Fatalf("refund must not run without a key")
	}
}

func TestRefundRouteReplaysByIdempotencyKey(t *testing.T) {
	f := newRouterFixture(t)
	headers := map[string]string{"Idempotency-Key": "refund-1"}

	first := serve(f.handler, http.MethodPost, "/api/v1/refunds", `{"paymentIntentRef":"pi_1"}`, headers)
	second := serve(f.handler, http.MethodPost, "/api/v1/refunds", `{"paymentIntentRef":"pi_1"}`, headers)

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if f.refunds.calls != 1 {
		t.Fatalf("expected one refund, got %d", f.refunds.calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestSettlementAccountRoutes(t *testing.T) {
	f := newRouterFixture(t)
	base := "/api/v1/merchants/" + uuid.NewString() + "/settlement-account"
	body := `{"country":"US","businessType":"company"}`

	if rec := serve(f.handler, http.MethodPost, base, body, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("provision without key: expected 400 got %d", rec.Code)
	}
	headers := map[string]string{"Idempotency-Key": "prov-1"}
	for i := 0; i < 2; i++ {
		if rec := serve(f.handler, http.MethodPost, base, body, headers); rec.Code != http.StatusOK {
			t.Fatalf("provision: expected 200 got %d (%s)", rec.Code, rec.Body.String())
		}
	}
	if f.accounts.provisions != 1 {
		t.Fatalf("expected one provisioning call, got %d", f.accounts.provisions)
	}
	if rec := serve(f.handler, http.MethodGet, base, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("get account: expected 200 got %d", rec.Code)
	}
	if rec := serve(f.handler, http.MethodPost, base+"/onboarding-link", "", nil); rec.Code != http.StatusCreated {
		t.Fatalf("onboarding link: expected 201 got %d", rec.Code)
	}
}

func TestCheckoutAndWebhookRoutes(t *testing.T) {
	f := newRouterFixture(t)
	checkout := fmt.Sprintf(`{"merchantId":%q,"bookingId":%q,"baseAmountCents":5000,"currency":"usd","payerEmail":"a@b.co","payerName":"A"}`, uuid.NewString(), uuid.NewString())
	if rec := serve(f.handler, http.MethodPost, "/api/v1/checkout/sessions", checkout, nil); rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}

	rec := serve(f.handler, http.MethodPost, "/api/v1/webhooks/stripe", `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200 got %d", rec.Code)
	}
	if f.reconciler.calls != 1 {
		t.Fatalf("expected reconciler called once, got %d", f.reconciler.calls)
	}
}
