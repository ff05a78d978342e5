package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// PayoutFailureEvent is the immutable record of a failed payout notification.
type PayoutFailureEvent struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID            string                `gorm:"column:event_id;not null;uniqueIndex"`
	PayoutID           string                `gorm:"column:payout_id;not null;uniqueIndex"`
	MerchantID         uuid.UUID             `gorm:"column:merchant_id;type:uuid;not null"`
	ProcessorAccountID string                `gorm:"column:processor_account_id;not null"`
	AmountCents        int64                 `gorm:"column:amount_cents;not null"`
	Currency           string                `gorm:"column:currency;not null"`
	FailureCode        string                `gorm:"column:failure_code;not null"`
	FailureMessage     string                `gorm:"column:failure_message;not null"`
	EscalationLevel    enums.EscalationLevel `gorm:"column:escalation_level;type:text;not null"`
	CreatedAt          time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (p *PayoutFailureEvent) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
