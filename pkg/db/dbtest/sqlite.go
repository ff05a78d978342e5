// Package dbtest opens in-memory sqlite databases shaped like the settlement
// schema for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	MerchantProfiles = `
CREATE TABLE IF NOT EXISTS merchant_profiles (
  merchant_id TEXT PRIMARY KEY,
  business_name TEXT NOT NULL,
  legal_name TEXT,
  contact_email TEXT,
  contact_phone TEXT,
  website_url TEXT,
  product_description TEXT,
  mcc TEXT,
  address_line1 TEXT,
  address_line2 TEXT,
  address_city TEXT,
  address_state TEXT,
  address_postal_code TEXT,
  address_country TEXT,
  representative_first_name TEXT,
  representative_last_name TEXT,
  representative_dob DATETIME,
  tax_percent TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`

	MerchantAccounts = `
CREATE TABLE IF NOT EXISTS merchant_accounts (
  id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL UNIQUE,
  processor_account_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL,
  charges_enabled INTEGER NOT NULL DEFAULT 0,
  payouts_enabled INTEGER NOT NULL DEFAULT 0,
  requirements_currently_due TEXT NOT NULL DEFAULT '{}',
  requirements_past_due TEXT NOT NULL DEFAULT '{}',
  requirements_eventually_due TEXT NOT NULL DEFAULT '{}',
  disabled_reason TEXT,
  country TEXT NOT NULL,
  business_type TEXT NOT NULL,
  requires_review INTEGER NOT NULL DEFAULT 0,
  review_reason TEXT,
  last_sync_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`

	PaymentRecords = `
CREATE TABLE IF NOT EXISTS payment_records (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL UNIQUE,
  payment_intent_id TEXT UNIQUE,
  booking_id TEXT NOT NULL,
  merchant_id TEXT NOT NULL,
  processor_account_id TEXT NOT NULL,
  base_amount_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  tax_cents INTEGER NOT NULL,
  total_amount_cents INTEGER NOT NULL,
  processor_fee_estimate_cents INTEGER NOT NULL,
  application_fee_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  completed_at DATETIME,
  failed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (application_fee_cents <= total_amount_cents),
  CHECK (total_amount_cents = base_amount_cents + platform_fee_cents + tax_cents)
);`

	RefundRecords = `
CREATE TABLE IF NOT EXISTS refund_records (
  id TEXT PRIMARY KEY,
  payment_record_id TEXT NOT NULL,
  payment_intent_ref TEXT NOT NULL,
  merchant_id TEXT NOT NULL,
  requested_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  refund_application_fee INTEGER NOT NULL,
  application_fee_refund_cents INTEGER NOT NULL,
  reverse_transfer INTEGER NOT NULL,
  used_fallback INTEGER NOT NULL,
  resulting_refund_id TEXT NOT NULL UNIQUE,
  fallback_reason TEXT,
  created_at DATETIME,
  CHECK (NOT used_fallback OR reverse_transfer)
);`

	PayoutFailureEvents = `
CREATE TABLE IF NOT EXISTS payout_failure_events (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  payout_id TEXT NOT NULL UNIQUE,
  merchant_id TEXT NOT NULL,
  processor_account_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  failure_code TEXT NOT NULL,
  failure_message TEXT NOT NULL,
  escalation_level TEXT NOT NULL,
  created_at DATETIME
);`

	ProcessedWebhookEvents = `
CREATE TABLE IF NOT EXISTS processed_webhook_events (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  processed_at DATETIME NOT NULL
);`

	OutboxEvents = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
)

// All lists every settlement table.
var All = []string{
	MerchantProfiles,
	MerchantAccounts,
	PaymentRecords,
	RefundRecords,
	PayoutFailureEvents,
	ProcessedWebhookEvents,
	OutboxEvents,
}

// Open returns a private in-memory database with the given tables created.
func Open(t testing.TB, tables ...string) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(tables) == 0 {
		tables = All
	}
	for _, ddl := range tables {
		require.NoError(t, conn.Exec(ddl).Error)
	}
	return conn
}
