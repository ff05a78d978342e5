package payloads

import (
	"github.com/google/uuid"

	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// NotificationRequestedEvent asks the notification worker to deliver one
// templated message.
type NotificationRequestedEvent struct {
	Kind       enums.NotificationKind `json:"kind"`
	Recipient  string                 `json:"recipient"`
	MerchantID uuid.UUID              `json:"merchant_id"`
	Subject    string                 `json:"subject"`
	Data       map[string]any         `json:"data,omitempty"`
}

// MerchantReviewEscalatedEvent flags a merchant for manual review after a
// payout failure that will not resolve on its own.
type MerchantReviewEscalatedEvent struct {
	MerchantID         uuid.UUID `json:"merchant_id"`
	ProcessorAccountID string    `json:"processor_account_id"`
	PayoutID           string    `json:"payout_id"`
	FailureCode        string    `json:"failure_code"`
	FailureMessage     string    `json:"failure_message"`
	AmountCents        int64     `json:"amount_cents"`
	Currency           string    `json:"currency"`
}

// RefundExceptionEscalatedEvent reports a refund that could not be issued
// through any path.
type RefundExceptionEscalatedEvent struct {
	PaymentRecordID  uuid.UUID `json:"payment_record_id"`
	MerchantID       uuid.UUID `json:"merchant_id"`
	PaymentIntentRef string    `json:"payment_intent_ref"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	Reason           string    `json:"reason"`
	Error            string    `json:"error"`
}
