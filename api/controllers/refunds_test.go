package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tripnest/tripnest-backend/internal/refunds"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
)

type stubRefunder struct {
	record *models.RefundRecord
	err    error
	input  refunds.RefundInput
	calls  int
}

func (s *stubRefunder) Refund(_ context.Context, input refunds.RefundInput) (*models.RefundRecord, error) {
	s.calls++
	s.input = input
	return s.record, s.err
}

func TestCreateRefundFallbackResponse(t *testing.T) {
	reason := "insufficient_connected_balance"
	svc := &stubRefunder{record: &models.RefundRecord{
		ID:                   uuid.New(),
		ResultingRefundID:    "re_123",
		RequestedAmountCents: 4000,
		ReverseTransfer:      true,
		UsedFallback:         true,
		FallbackReason:       &reason,
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(`{"paymentIntentRef":"pi_1","amountCents":4000,"refundApplicationFee":true,"reason":"requested_by_customer"}`))
	rec := httptest.NewRecorder()
	CreateRefund(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.input.AmountCents == nil || *svc.input.AmountCents != 4000 {
		t.Fatalf("amount not forwarded: %+v", svc.input)
	}
	if svc.input.ReverseTransfer != nil {
		t.Fatalf("omitted reverseTransfer must stay nil so the default applies")
	}
	if !svc.input.RefundApplicationFee || svc.input.PaymentIntentRef != "pi_1" {
		t.Fatalf("unexpected input %+v", svc.input)
	}

	var body struct {
		Data refundResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.RefundID != "re_123" || !body.Data.UsedFallback {
		t.Fatalf("unexpected response %+v", body.Data)
	}
	if body.Data.FallbackReason == nil || *body.Data.FallbackReason != reason {
		t.Fatalf("expected fallback reason, got %v", body.Data.FallbackReason)
	}
}

func TestCreateRefundDirectOmitsFallbackReason(t *testing.T) {
	svc := &stubRefunder{record: &models.RefundRecord{ID: uuid.New(), ResultingRefundID: "re_9"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(`{"paymentIntentRef":"pi_1","reverseTransfer":false}`))
	rec := httptest.NewRecorder()
	CreateRefund(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if svc.input.ReverseTransfer == nil || *svc.input.ReverseTransfer {
		t.Fatalf("expected explicit reverseTransfer=false")
	}
	if strings.Contains(rec.Body.String(), "fallbackReason") {
		t.Fatalf("fallbackReason must be omitted on the direct path: %s", rec.Body.String())
	}
}

func TestCreateRefundErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing intent", `{"amountCents":100}`, nil, http.StatusBadRequest},
		{"negative amount", `{"paymentIntentRef":"pi_1","amountCents":-5}`, nil, http.StatusBadRequest},
		{"unknown payment", `{"paymentIntentRef":"pi_x"}`, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"), http.StatusNotFound},
		{"financial exception", `{"paymentIntentRef":"pi_1"}`, pkgerrors.New(pkgerrors.CodeDependency, "refund failed"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		svc := &stubRefunder{err: tc.err}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		CreateRefund(svc, nil).ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d got %d (%s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
	}
}
