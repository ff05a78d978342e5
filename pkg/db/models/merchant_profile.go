package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchantProfile is the agency profile owned by the booking side. This
// service only reads it.
type MerchantProfile struct {
	MerchantID              uuid.UUID  `gorm:"column:merchant_id;type:uuid;primaryKey"`
	BusinessName            string     `gorm:"column:business_name;not null"`
	LegalName               *string    `gorm:"column:legal_name"`
	ContactEmail            *string    `gorm:"column:contact_email"`
	ContactPhone            *string    `gorm:"column:contact_phone"`
	WebsiteURL              *string    `gorm:"column:website_url"`
	ProductDescription      *string    `gorm:"column:product_description"`
	MCC                     *string    `gorm:"column:mcc"`
	AddressLine1            *string    `gorm:"column:address_line1"`
	AddressLine2            *string    `gorm:"column:address_line2"`
	AddressCity             *string    `gorm:"column:address_city"`
	AddressState            *string    `gorm:"column:address_state"`
	AddressPostalCode       *string    `gorm:"column:address_postal_code"`
	AddressCountry          *string    `gorm:"column:address_country"`
	RepresentativeFirstName *string    `gorm:"column:representative_first_name"`
	RepresentativeLastName  *string    `gorm:"column:representative_last_name"`
	RepresentativeDOB       *time.Time `gorm:"column:representative_dob;type:date"`
	TaxPercent              *string    `gorm:"column:tax_percent"`
	CreatedAt               time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
