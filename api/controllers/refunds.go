package controllers

import (
	"context"
	"net/http"

	"github.com/tripnest/tripnest-backend/api/responses"
	"github.com/tripnest/tripnest-backend/api/validators"
	"github.com/tripnest/tripnest-backend/internal/refunds"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

// Refunder issues refunds against settled payments.
type Refunder interface {
	Refund(ctx context.Context, input refunds.RefundInput) (*models.RefundRecord, error)
}

type refundRequest struct {
	PaymentIntentRef     string `json:"paymentIntentRef" validate:"required"`
	AmountCents          *int64 `json:"amountCents,omitempty" validate:"omitempty,gt=0"`
	RefundApplicationFee bool   `json:"refundApplicationFee"`
	ReverseTransfer      *bool  `json:"reverseTransfer,omitempty"`
	Reason               string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type refundResponse struct {
	RefundID                  string  `json:"refundId"`
	RefundRecordID            string  `json:"refundRecordId"`
	AmountCents               int64   `json:"amountCents"`
	ApplicationFeeRefundCents int64   `json:"applicationFeeRefundCents"`
	UsedFallback              bool    `json:"usedFallback"`
	FallbackReason            *string `json:"fallbackReason,omitempty"`
}

// CreateRefund refunds a payment, preferring to pull funds back from the
// merchant and falling back to the platform balance.
func CreateRefund(svc Refunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Refund(r.Context(), refunds.RefundInput{
			PaymentIntentRef:     payload.PaymentIntentRef,
			AmountCents:          payload.AmountCents,
			RefundApplicationFee: payload.RefundApplicationFee,
			ReverseTransfer:      payload.ReverseTransfer,
			Reason:               payload.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundResponse(record))
	}
}

func newRefundResponse(record *models.RefundRecord) refundResponse {
	if record == nil {
		return refundResponse{}
	}
	return refundResponse{
		RefundID:                  record.ResultingRefundID,
		RefundRecordID:            record.ID.String(),
		AmountCents:               record.RequestedAmountCents,
		ApplicationFeeRefundCents: record.ApplicationFeeRefundCents,
		UsedFallback:              record.UsedFallback,
		FallbackReason:            record.FallbackReason,
	}
}
