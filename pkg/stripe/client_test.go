package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/tripnest/tripnest-backend/pkg/config"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return newClient(client.New("sk_test_123", backends), testEnv, logger.Nop(), 2*time.Second, 2, time.Millisecond)
}

func writeStripeError(w http.ResponseWriter, status int, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":%q,"code":%q,"message":"test failure"}}`, errType, code)
}

func TestNewClientValidatesCredentials(t *testing.T) {
	ctx := context.Background()
	logg := logger.Nop()

	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc", Env: "test"}, nil); err == nil {
		t.Fatalf("expected logger required error")
	}
	if _, err := NewClient(ctx, config.StripeConfig{Env: "test"}, logg); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("expected api key error, got %v", err)
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_live_abc", Env: "test"}, logg); err == nil {
		t.Fatalf("expected live key to be rejected in test env")
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc", Env: "staging"}, logg); !errors.Is(err, errInvalidStripeEnv) {
		t.Fatalf("expected invalid env error, got %v", err)
	}
	c, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_live_abc", Env: "LIVE"}, logg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment() != liveEnv {
		t.Fatalf("expected live env, got %q", c.Environment())
	}
}

func TestCreateRefundSendsModeAndIdempotencyKey(t *testing.T) {
	var gotKey, gotReverse, gotFee, gotIntent string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotKey = r.Header.Get("Idempotency-Key")
		gotReverse = r.Form.Get("reverse_transfer")
		gotFee = r.Form.Get("refund_application_fee")
		gotIntent = r.Form.Get("payment_intent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"re_123","object":"refund","amount":5000,"status":"succeeded"}`)
	})

	refund, err := c.CreateRefund(context.Background(), RefundCreateParams{
		PaymentIntentID:      "pi_1",
		AmountCents:          5000,
		ReverseTransfer:      true,
		RefundApplicationFee: false,
		IdempotencyKey:       "refund-pi_1-reverse-abc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.ID != "re_123" {
		t.Fatalf("unexpected refund id %q", refund.ID)
	}
	if gotKey != "refund-pi_1-reverse-abc" || gotReverse != "true" || gotFee != "false" || gotIntent != "pi_1" {
		t.Fatalf("unexpected request key=%q reverse=%q fee=%q intent=%q", gotKey, gotReverse, gotFee, gotIntent)
	}
}

func TestCreateRefundOmitsAmountForRemainder(t *testing.T) {
	var hasAmount bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		_, hasAmount = r.Form["amount"]
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"re_rest","object":"refund","amount":16100,"status":"succeeded"}`)
	})

	refund, err := c.CreateRefund(context.Background(), RefundCreateParams{PaymentIntentID: "pi_1", IdempotencyKey: "k-rest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasAmount {
		t.Fatalf("amount must be omitted so the processor refunds the remainder")
	}
	if refund.Amount != 16100 {
		t.Fatalf("unexpected refunded amount %d", refund.Amount)
	}
}

func TestCallRetriesServerErrorsWithSameKey(t *testing.T) {
	var calls int32
	keys := make(chan string, 3)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if atomic.AddInt32(&calls, 1) < 3 {
			writeStripeError(w, http.StatusInternalServerError, "api_error", "")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"re_ok","object":"refund","amount":100,"status":"succeeded"}`)
	})

	if _, err := c.CreateRefund(context.Background(), RefundCreateParams{PaymentIntentID: "pi_1", AmountCents: 100, IdempotencyKey: "k-1"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	close(keys)
	for key := range keys {
		if key != "k-1" {
			t.Fatalf("retry changed idempotency key to %q", key)
		}
	}
}

func TestCallDoesNotRetryBusinessErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeStripeError(w, http.StatusBadRequest, "invalid_request_error", "balance_insufficient")
	})

	_, err := c.CreateRefund(context.Background(), RefundCreateParams{PaymentIntentID: "pi_1", AmountCents: 100, ReverseTransfer: true})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("business errors must not be retried, got %d calls", calls)
	}
}

func TestGetAccountBalanceUsesConnectedAccountHeader(t *testing.T) {
	var gotAccount string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAccount = r.Header.Get("Stripe-Account")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"balance","available":[{"amount":20000,"currency":"usd"},{"amount":700,"currency":"eur"}],"pending":[{"amount":10000,"currency":"usd"}]}`)
	})

	balance, err := c.GetAccountBalance(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAccount != "acct_1" {
		t.Fatalf("expected Stripe-Account header, got %q", gotAccount)
	}
	if got := SpendableAmount(balance, "USD"); got != 30000 {
		t.Fatalf("expected 30000 spendable usd, got %d", got)
	}
	if got := SpendableAmount(balance, "gbp"); got != 0 {
		t.Fatalf("expected 0 gbp, got %d", got)
	}
}

func TestFindAccountByMerchantMatchesMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","has_more":false,"url":"/v1/accounts","data":[
			{"id":"acct_other","object":"account","metadata":{"merchant_id":"m-2"}},
			{"id":"acct_mine","object":"account","metadata":{"merchant_id":"m-1"}}]}`)
	})

	acct, err := c.FindAccountByMerchant(context.Background(), "m-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct == nil || acct.ID != "acct_mine" {
		t.Fatalf("expected acct_mine, got %+v", acct)
	}

	missing, err := c.FindAccountByMerchant(context.Background(), "m-3", 1)
	if err != nil || missing != nil {
		t.Fatalf("expected no match, got %+v err=%v", missing, err)
	}
}

func TestMapStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{name: "network", err: errors.New("dial tcp: connection refused"), want: pkgerrors.CodeDependency},
		{name: "insufficient", err: &stripe.Error{Code: stripe.ErrorCodeInsufficientFunds, HTTPStatusCode: 400}, want: pkgerrors.CodeInsufficientFunds},
		{name: "idempotency", err: &stripe.Error{Type: stripe.ErrorTypeIdempotency, HTTPStatusCode: 400}, want: pkgerrors.CodeIdempotency},
		{name: "auth", err: &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 401}, want: pkgerrors.CodeProcessorAuth},
		{name: "not found", err: &stripe.Error{HTTPStatusCode: 404}, want: pkgerrors.CodeNotFound},
		{name: "server", err: &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 503}, want: pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pkgerrors.As(mapStripeError(tt.err, "op"))
			if got == nil || got.Code() != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, got)
			}
		})
	}
}

func TestIsNetworkError(t *testing.T) {
	if !isNetworkError(errors.New("EOF")) {
		t.Fatalf("transport errors should be retryable")
	}
	if isNetworkError(context.Canceled) {
		t.Fatalf("cancellation must not be retried")
	}
	if isNetworkError(&stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: 400}) {
		t.Fatalf("4xx must not be retried")
	}
	if !isNetworkError(&stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 502}) {
		t.Fatalf("5xx api errors should be retried")
	}
}

func TestAccountCreateParamsOmitAbsentFields(t *testing.T) {
	name := "Sunset Kayak Tours"
	params := AccountCreateParams{
		MerchantID:   "m-1",
		Country:      "us",
		BusinessType: string(stripe.AccountBusinessTypeCompany),
		BusinessName: &name,
	}
	req := params.toStripe()
	if req.Company != nil {
		t.Fatalf("company must be omitted without legal name, phone or address")
	}
	if req.Individual != nil {
		t.Fatalf("individual must be omitted for company accounts")
	}
	if req.BusinessProfile == nil || *req.BusinessProfile.Name != name || req.BusinessProfile.URL != nil {
		t.Fatalf("unexpected business profile %+v", req.BusinessProfile)
	}
	if *req.Country != "US" || req.Metadata[MerchantMetadataKey] != "m-1" {
		t.Fatalf("unexpected country or metadata")
	}
	if !*req.Capabilities.Transfers.Requested || !*req.Capabilities.CardPayments.Requested {
		t.Fatalf("expected transfers and card_payments capabilities")
	}

	fields := params.FieldNames()
	for _, f := range fields {
		if f == "email" || f == "company.name" {
			t.Fatalf("absent field %q reported in payload shape", f)
		}
	}
}

func TestCheckoutSessionParamsDestinationCharge(t *testing.T) {
	req := CheckoutSessionParams{
		BookingID:            "b-1",
		DestinationAccountID: "acct_1",
		Currency:             "USD",
		ApplicationFeeCents:  1142,
		LineItems:            []LineItem{{Name: "Kayak tour", AmountCents: 20000}, {Name: "Service fee", AmountCents: 500}},
		SuccessURL:           "https://example.test/ok",
		CancelURL:            "https://example.test/cancel",
	}.toStripe()

	if *req.PaymentIntentData.ApplicationFeeAmount != 1142 {
		t.Fatalf("unexpected application fee")
	}
	if *req.PaymentIntentData.TransferData.Destination != "acct_1" {
		t.Fatalf("unexpected destination")
	}
	if len(req.LineItems) != 2 || *req.LineItems[0].PriceData.Currency != "usd" {
		t.Fatalf("unexpected line items")
	}
	if req.UIMode != nil || req.SuccessURL == nil {
		t.Fatalf("hosted mode should set success url and no ui mode")
	}
}
