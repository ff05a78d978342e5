package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// PaymentRecord is the persisted breakdown of one checkout session. Amounts
// are written once and never recomputed.
type PaymentRecord struct {
	ID                        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID                 string              `gorm:"column:session_id;not null;uniqueIndex"`
	PaymentIntentID           *string             `gorm:"column:payment_intent_id;uniqueIndex"`
	BookingID                 uuid.UUID           `gorm:"column:booking_id;type:uuid;not null"`
	MerchantID                uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null"`
	ProcessorAccountID        string              `gorm:"column:processor_account_id;not null"`
	BaseAmountCents           int64               `gorm:"column:base_amount_cents;not null"`
	PlatformFeeCents          int64               `gorm:"column:platform_fee_cents;not null"`
	TaxCents                  int64               `gorm:"column:tax_cents;not null"`
	TotalAmountCents          int64               `gorm:"column:total_amount_cents;not null"`
	ProcessorFeeEstimateCents int64               `gorm:"column:processor_fee_estimate_cents;not null"`
	ApplicationFeeCents       int64               `gorm:"column:application_fee_cents;not null"`
	Currency                  string              `gorm:"column:currency;not null"`
	Status                    enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	CompletedAt               *time.Time          `gorm:"column:completed_at"`
	FailedAt                  *time.Time          `gorm:"column:failed_at"`
	CreatedAt                 time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentRecord) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
