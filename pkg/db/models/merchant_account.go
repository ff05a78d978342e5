package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/tripnest/tripnest-backend/pkg/db/types"
	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// MerchantAccount is the local mirror of a merchant's connected settlement account.
type MerchantAccount struct {
	ID                        uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantID                uuid.UUID                   `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex"`
	ProcessorAccountID        string                      `gorm:"column:processor_account_id;not null;uniqueIndex"`
	Status                    enums.MerchantAccountStatus `gorm:"column:status;type:text;not null"`
	ChargesEnabled            bool                        `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled            bool                        `gorm:"column:payouts_enabled;not null;default:false"`
	RequirementsCurrentlyDue  dbtypes.StringArray         `gorm:"column:requirements_currently_due;type:text[];not null"`
	RequirementsPastDue       dbtypes.StringArray         `gorm:"column:requirements_past_due;type:text[];not null"`
	RequirementsEventuallyDue dbtypes.StringArray         `gorm:"column:requirements_eventually_due;type:text[];not null"`
	DisabledReason            *string                     `gorm:"column:disabled_reason"`
	Country                   string                      `gorm:"column:country;not null"`
	BusinessType              string                      `gorm:"column:business_type;not null"`
	RequiresReview            bool                        `gorm:"column:requires_review;not null;default:false"`
	ReviewReason              *string                     `gorm:"column:review_reason"`
	LastSyncAt                time.Time                   `gorm:"column:last_sync_at;not null"`
	CreatedAt                 time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *MerchantAccount) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// IsPayable reports whether checkout may route funds to this account.
func (m *MerchantAccount) IsPayable() bool {
	return m != nil && m.Status == enums.MerchantAccountActive && m.ChargesEnabled
}
