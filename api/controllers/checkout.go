package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tripnest/tripnest-backend/api/responses"
	"github.com/tripnest/tripnest-backend/api/validators"
	"github.com/tripnest/tripnest-backend/internal/payments"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
)

// SessionCreator opens a checkout session for a booking.
type SessionCreator interface {
	CreateSession(ctx context.Context, input payments.CreateSessionInput) (*payments.SessionHandle, error)
}

type checkoutSessionRequest struct {
	MerchantID      uuid.UUID `json:"merchantId" validate:"required"`
	BookingID       uuid.UUID `json:"bookingId" validate:"required"`
	BaseAmountCents int64     `json:"baseAmountCents" validate:"gt=0"`
	Currency        string    `json:"currency" validate:"required,currency"`
	PayerEmail      string    `json:"payerEmail" validate:"required,email"`
	PayerName       string    `json:"payerName" validate:"required,max=200"`
}

// CreateCheckoutSession prices a booking and opens a destination-charge
// checkout session for it.
func CreateCheckoutSession(svc SessionCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		handle, err := svc.CreateSession(r.Context(), payments.CreateSessionInput{
			BookingID:       payload.BookingID,
			MerchantID:      payload.MerchantID,
			BaseAmountCents: payload.BaseAmountCents,
			Currency:        payload.Currency,
			PayerEmail:      payload.PayerEmail,
			PayerName:       validators.CleanText(payload.PayerName, 200),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, handle)
	}
}
