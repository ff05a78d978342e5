package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefundRecord captures the refund mode requested and the mode that ran.
// UsedFallback implies ReverseTransfer.
type RefundRecord struct {
	ID                        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentRecordID           uuid.UUID `gorm:"column:payment_record_id;type:uuid;not null"`
	PaymentIntentRef          string    `gorm:"column:payment_intent_ref;not null"`
	MerchantID                uuid.UUID `gorm:"column:merchant_id;type:uuid;not null"`
	RequestedAmountCents      int64     `gorm:"column:requested_amount_cents;not null"`
	Currency                  string    `gorm:"column:currency;not null"`
	RefundApplicationFee      bool      `gorm:"column:refund_application_fee;not null"`
	ApplicationFeeRefundCents int64     `gorm:"column:application_fee_refund_cents;not null"`
	ReverseTransfer           bool      `gorm:"column:reverse_transfer;not null"`
	UsedFallback              bool      `gorm:"column:used_fallback;not null"`
	ResultingRefundID         string    `gorm:"column:resulting_refund_id;not null;uniqueIndex"`
	FallbackReason            *string   `gorm:"column:fallback_reason"`
	CreatedAt                 time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *RefundRecord) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
