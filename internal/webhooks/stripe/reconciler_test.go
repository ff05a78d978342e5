package stripewebhook

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/internal/notifications"
	"github.com/tripnest/tripnest-backend/internal/payments"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/db/dbtest"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	dbtypes "github.com/tripnest/tripnest-backend/pkg/db/types"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const webhookSecret = "whsec_reconciler"

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "tripnest:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

type recordingGateway struct {
	messages    []notifications.Message
	escalations []notifications.Escalation
}

func (g *recordingGateway) Notify(_ context.Context, _ *gorm.DB, msg notifications.Message) error {
	g.messages = append(g.messages, msg)
	return nil
}

func (g *recordingGateway) Escalate(_ context.Context, _ *gorm.DB, esc notifications.Escalation) error {
	g.escalations = append(g.escalations, esc)
	return nil
}

func (g *recordingGateway) SupportRecipient() string {
	return "support@tripnest.test"
}

func (g *recordingGateway) kinds() []enums.NotificationKind {
	out := make([]enums.NotificationKind, 0, len(g.messages))
	for _, msg := range g.messages {
		out = append(out, msg.Kind)
	}
	return out
}

type harness struct {
	conn       *gorm.DB
	store      *memoryStore
	guard      *DeliveryGuard
	gateway    *recordingGateway
	reconciler *Reconciler
	accounts   merchants.Repository
	merchantID uuid.UUID
}

func newHarness(t *testing.T, contactEmail string) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	store := newMemoryStore()
	guard, err := NewDeliveryGuard(store, time.Hour)
	require.NoError(t, err)
	verifier, err := pkgstripe.NewEventVerifier(webhookSecret, 5*time.Minute)
	require.NoError(t, err)

	accounts := merchants.NewRepository(conn)
	profiles := merchants.NewProfileRepository(conn)
	gateway := &recordingGateway{}

	merchantID := uuid.New()
	profile := &models.MerchantProfile{MerchantID: merchantID, BusinessName: "Canyon Trails"}
	if contactEmail != "" {
		profile.ContactEmail = &contactEmail
	}
	require.NoError(t, conn.Create(profile).Error)
	_, err = accounts.Upsert(context.Background(), &models.MerchantAccount{
		MerchantID:                merchantID,
		ProcessorAccountID:        "acct_dest",
		Status:                    enums.MerchantAccountActive,
		ChargesEnabled:            true,
		PayoutsEnabled:            true,
		RequirementsCurrentlyDue:  dbtypes.StringArray{},
		RequirementsPastDue:       dbtypes.StringArray{},
		RequirementsEventuallyDue: dbtypes.StringArray{},
		Country:                   "US",
		BusinessType:              "company",
		LastSyncAt:                time.Now().Add(-time.Hour).UTC(),
	})
	require.NoError(t, err)

	reconciler, err := NewReconciler(ReconcilerParams{
		Verifier:      verifier,
		Guard:         guard,
		DB:            db.FromConn(conn),
		Events:        NewEventStore(),
		Accounts:      accounts,
		Profiles:      profiles,
		Payments:      payments.NewRepository(conn),
		Notifications: gateway,
		Logger:        logger.Nop(),
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		store:      store,
		guard:      guard,
		gateway:    gateway,
		reconciler: reconciler,
		accounts:   accounts,
		merchantID: merchantID,
	}
}

func (h *harness) deliver(t *testing.T, payload string) error {
	t.Helper()
	return h.reconciler.Handle(context.Background(), []byte(payload), sign([]byte(payload), time.Now()))
}

func sign(payload []byte, at time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(webhook.ComputeSignature(at, payload, webhookSecret)))
}

func payoutFailedEvent(eventID, payoutID, code string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"payout.failed","account":"acct_dest","livemode":false,`+
		`"data":{"object":{"id":%q,"object":"payout","amount":5000,"currency":"usd","failure_code":%q,"failure_message":"bank rejected"}}}`,
		eventID, payoutID, code)
}

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestPayoutFailedRedeliveryIsAppliedOnce(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")
	payload := payoutFailedEvent("evt_payout_1", "po_1", "could_not_process")

	require.NoError(t, h.deliver(t, payload))
	require.NoError(t, h.deliver(t, payload))

	assert.Equal(t, int64(1), countRows(t, h.conn, &models.PayoutFailureEvent{}))
	assert.Equal(t, int64(1), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
	assert.Equal(t, []enums.NotificationKind{
		enums.NotificationPayoutFailedMerchant,
		enums.NotificationPayoutFailedSupport,
	}, h.gateway.kinds())
	assert.Equal(t, "owner@canyontrails.test", h.gateway.messages[0].Recipient)
	assert.Equal(t, "support@tripnest.test", h.gateway.messages[1].Recipient)
	assert.Empty(t, h.gateway.escalations)

	var failure models.PayoutFailureEvent
	require.NoError(t, h.conn.First(&failure).Error)
	assert.Equal(t, enums.EscalationAgencyNotified, failure.EscalationLevel)
	assert.Equal(t, h.merchantID, failure.MerchantID)
	assert.Equal(t, int64(5000), failure.AmountCents)
	assert.Equal(t, failure.ID, h.gateway.messages[0].AggregateID)
}

func TestPayoutFailedDatabaseDedupeWithoutGuard(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")
	payload := payoutFailedEvent("evt_payout_2", "po_2", "could_not_process")

	require.NoError(t, h.deliver(t, payload))
	// losing the Redis key must not cause a second application
	require.NoError(t, h.guard.Release(context.Background(), &stripe.Event{ID: "evt_payout_2", Type: stripe.EventTypePayoutFailed}))
	require.NoError(t, h.deliver(t, payload))

	assert.Equal(t, int64(1), countRows(t, h.conn, &models.PayoutFailureEvent{}))
	assert.Len(t, h.gateway.messages, 2)
}

func TestPayoutFailedGuardOutageFallsBackToDatabase(t *testing.T) {
	h := newHarness(t, "")
	h.store.err = fmt.Errorf("redis down")
	payload := payoutFailedEvent("evt_payout_3", "po_3", "could_not_process")

	require.NoError(t, h.deliver(t, payload))
	require.NoError(t, h.deliver(t, payload))

	assert.Equal(t, int64(1), countRows(t, h.conn, &models.PayoutFailureEvent{}))
	assert.Equal(t, []enums.NotificationKind{enums.NotificationPayoutFailedSupport}, h.gateway.kinds())
}

func TestPayoutFailedSamePayoutNewEventIsDuplicate(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")

	require.NoError(t, h.deliver(t, payoutFailedEvent("evt_a", "po_same", "could_not_process")))
	require.NoError(t, h.deliver(t, payoutFailedEvent("evt_b", "po_same", "could_not_process")))

	assert.Equal(t, int64(1), countRows(t, h.conn, &models.PayoutFailureEvent{}))
	assert.Equal(t, int64(2), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
	assert.Len(t, h.gateway.messages, 2)
}

func TestPayoutFailedEscalationLevels(t *testing.T) {
	cases := []struct {
		name       string
		email      string
		code       string
		level      enums.EscalationLevel
		kinds      []enums.NotificationKind
		escalated  bool
		flagReview bool
	}{
		{
			name:  "transient with contact",
			email: "owner@canyontrails.test",
			code:  "could_not_process",
			level: enums.EscalationAgencyNotified,
			kinds: []enums.NotificationKind{enums.NotificationPayoutFailedMerchant, enums.NotificationPayoutFailedSupport},
		},
		{
			name:  "transient without contact",
			code:  "insufficient_funds",
			level: enums.EscalationInternalNotified,
			kinds: []enums.NotificationKind{enums.NotificationPayoutFailedSupport},
		},
		{
			name:       "closed account",
			email:      "owner@canyontrails.test",
			code:       "account_closed",
			level:      enums.EscalationFlaggedForReview,
			kinds:      []enums.NotificationKind{enums.NotificationPayoutFailedMerchant, enums.NotificationPayoutFailedSupport},
			escalated:  true,
			flagReview: true,
		},
		{
			name:       "wrong account number without contact",
			code:       "invalid_account_number",
			level:      enums.EscalationFlaggedForReview,
			kinds:      []enums.NotificationKind{enums.NotificationPayoutFailedSupport},
			escalated:  true,
			flagReview: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.email)
			require.NoError(t, h.deliver(t, payoutFailedEvent("evt_"+tc.code, "po_"+tc.code, tc.code)))

			var failure models.PayoutFailureEvent
			require.NoError(t, h.conn.First(&failure).Error)
			assert.Equal(t, tc.level, failure.EscalationLevel)
			assert.Equal(t, tc.kinds, h.gateway.kinds())

			if tc.escalated {
				require.Len(t, h.gateway.escalations, 1)
				assert.Equal(t, enums.EventMerchantReviewEscalated, h.gateway.escalations[0].EventType)
				assert.Equal(t, failure.ID, h.gateway.escalations[0].AggregateID)
			} else {
				assert.Empty(t, h.gateway.escalations)
			}

			account, err := h.accounts.FindByMerchantID(context.Background(), h.merchantID)
			require.NoError(t, err)
			assert.Equal(t, tc.flagReview, account.RequiresReview)
			if tc.flagReview {
				require.NotNil(t, account.ReviewReason)
				assert.Equal(t, "payout failed: "+tc.code, *account.ReviewReason)
			}
		})
	}
}

func TestEscalationLevelFor(t *testing.T) {
	if got := EscalationLevelFor("account_frozen", true); got != enums.EscalationFlaggedForReview {
		t.Fatalf("expected flagged_for_review, got %s", got)
	}
	if got := EscalationLevelFor("declined", true); got != enums.EscalationAgencyNotified {
		t.Fatalf("expected agency_notified, got %s", got)
	}
	if got := EscalationLevelFor("", false); got != enums.EscalationInternalNotified {
		t.Fatalf("expected internal_notified, got %s", got)
	}
}

func TestPayoutFailedUnknownAccountIsIgnored(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")
	payload := strings.Replace(payoutFailedEvent("evt_unknown", "po_unknown", "account_closed"), "acct_dest", "acct_stranger", 1)

	require.NoError(t, h.deliver(t, payload))

	assert.Equal(t, int64(0), countRows(t, h.conn, &models.PayoutFailureEvent{}))
	assert.Equal(t, int64(1), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
	assert.Empty(t, h.gateway.messages)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")
	payload := []byte(payoutFailedEvent("evt_forged", "po_forged", "account_closed"))

	err := h.reconciler.Handle(context.Background(), payload, "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature))
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
	assert.False(t, h.store.has(h.store.IdempotencyKey("stripe_webhook", "evt_forged")))
}

func TestUnhandledEventTypeIsAcknowledged(t *testing.T) {
	h := newHarness(t, "")
	payload := `{"id":"evt_misc","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`

	require.NoError(t, h.deliver(t, payload))
	assert.Equal(t, int64(1), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
	assert.Empty(t, h.gateway.messages)
}

func TestHandlerFailureReleasesGuardAndRollsBack(t *testing.T) {
	h := newHarness(t, "owner@canyontrails.test")
	payload := `{"id":"evt_bad","object":"event","type":"payout.failed","account":"acct_dest",` +
		`"data":{"object":{"id":"po_bad","object":"payout","amount":"lots"}}}`

	err := h.deliver(t, payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, h.store.has(h.guard.mustKey(t, &stripe.Event{ID: "evt_bad", Type: stripe.EventTypePayoutFailed})))
	assert.Equal(t, int64(0), countRows(t, h.conn, &models.ProcessedWebhookEvent{}))
}

func TestAccountUpdatedSyncsStatus(t *testing.T) {
	h := newHarness(t, "")
	payload := `{"id":"evt_acct","object":"event","type":"account.updated","account":"acct_dest",` +
		`"data":{"object":{"id":"acct_dest","object":"account","charges_enabled":false,"payouts_enabled":false,` +
		`"country":"US","business_type":"company","requirements":{"currently_due":["external_account"],` +
		`"past_due":["external_account"],"eventually_due":[],"disabled_reason":"requirements.past_due"}}}}`

	require.NoError(t, h.deliver(t, payload))

	account, err := h.accounts.FindByMerchantID(context.Background(), h.merchantID)
	require.NoError(t, err)
	assert.Equal(t, enums.MerchantAccountRestricted, account.Status)
	assert.False(t, account.ChargesEnabled)
	assert.Equal(t, []string{"external_account"}, []string(account.RequirementsPastDue))
	require.NotNil(t, account.DisabledReason)
}

func TestCheckoutEventsMoveThePaymentRecord(t *testing.T) {
	h := newHarness(t, "")
	repo := payments.NewRepository(h.conn)
	ctx := context.Background()
	for _, sessionID := range []string{"cs_paid", "cs_expired", "cs_async"} {
		require.NoError(t, repo.Create(ctx, &models.PaymentRecord{
			SessionID:                 sessionID,
			BookingID:                 uuid.New(),
			MerchantID:                h.merchantID,
			ProcessorAccountID:        "acct_dest",
			BaseAmountCents:           20000,
			PlatformFeeCents:          500,
			TaxCents:                  600,
			TotalAmountCents:          21100,
			ProcessorFeeEstimateCents: 642,
			ApplicationFeeCents:       1142,
			Currency:                  "usd",
			Status:                    enums.PaymentStatusOpen,
		}))
	}

	require.NoError(t, h.deliver(t, `{"id":"evt_cs1","object":"event","type":"checkout.session.completed",`+
		`"data":{"object":{"id":"cs_paid","object":"checkout.session","payment_status":"paid","payment_intent":"pi_paid"}}}`))
	require.NoError(t, h.deliver(t, `{"id":"evt_cs2","object":"event","type":"checkout.session.expired",`+
		`"data":{"object":{"id":"cs_expired","object":"checkout.session","payment_status":"unpaid"}}}`))
	require.NoError(t, h.deliver(t, `{"id":"evt_cs3","object":"event","type":"checkout.session.completed",`+
		`"data":{"object":{"id":"cs_async","object":"checkout.session","payment_status":"unpaid"}}}`))

	paid, err := repo.FindByPaymentRef(ctx, "pi_paid")
	require.NoError(t, err)
	require.NotNil(t, paid)
	assert.Equal(t, enums.PaymentStatusCompleted, paid.Status)

	expired, err := repo.FindBySessionID(ctx, "cs_expired")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, expired.Status)

	async, err := repo.FindBySessionID(ctx, "cs_async")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusOpen, async.Status)

	require.NoError(t, h.deliver(t, `{"id":"evt_cs4","object":"event","type":"checkout.session.async_payment_succeeded",`+
		`"data":{"object":{"id":"cs_async","object":"checkout.session","payment_status":"paid","payment_intent":"pi_async"}}}`))
	async, err = repo.FindBySessionID(ctx, "cs_async")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, async.Status)
}
