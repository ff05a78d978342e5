package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

type stubResolver struct {
	account *models.MerchantAccount
	err     error
}

func (s stubResolver) Resolve(context.Context, uuid.UUID) (*models.MerchantAccount, error) {
	return s.account, s.err
}

type stubProfiles struct {
	profile *models.MerchantProfile
}

func (s stubProfiles) FindByMerchantID(context.Context, uuid.UUID) (*models.MerchantProfile, error) {
	return s.profile, nil
}

type recordingCheckout struct {
	params   *pkgstripe.CheckoutSessionParams
	session  *stripe.CheckoutSession
	err      error
	onCreate func()
}

func (r *recordingCheckout) CreateCheckoutSession(_ context.Context, params pkgstripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	r.params = &params
	if r.onCreate != nil {
		r.onCreate()
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}

type recordingRepo struct {
	created []*models.PaymentRecord
	err     error
}

func (r *recordingRepo) WithTx(*gorm.DB) Repository { return r }
func (r *recordingRepo) Create(ctx context.Context, record *models.PaymentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, record)
	return nil
}
func (r *recordingRepo) FindByID(context.Context, uuid.UUID) (*models.PaymentRecord, error) {
	return nil, nil
}
func (r *recordingRepo) FindBySessionID(context.Context, string) (*models.PaymentRecord, error) {
	return nil, nil
}
func (r *recordingRepo) FindByPaymentRef(context.Context, string) (*models.PaymentRecord, error) {
	return nil, nil
}
func (r *recordingRepo) MarkCompleted(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (r *recordingRepo) MarkFailed(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

var testFees = config.FeesConfig{
	PlatformFeeKind:       "fixed",
	PlatformFeeFixedCents: 500,
	PlatformFeePercent:    "0",
	DefaultTaxPercent:     "0",
	ProcessorRatePercent:  "2.9",
	ProcessorFixedCents:   30,
}

var testCheckout = config.CheckoutConfig{
	UIMode:     "hosted",
	SuccessURL: "https://tripnest.test/bookings/{BOOKING_ID}/confirmed",
	CancelURL:  "https://tripnest.test/bookings/{BOOKING_ID}",
	ReturnURL:  "https://tripnest.test/bookings/{BOOKING_ID}/return",
}

func payableAccount() *models.MerchantAccount {
	return &models.MerchantAccount{
		ID:                 uuid.New(),
		ProcessorAccountID: "acct_dest",
		Status:             enums.MerchantAccountActive,
		ChargesEnabled:     true,
	}
}

func newTestService(t *testing.T, resolver AccountResolver, profile *models.MerchantProfile, checkout *recordingCheckout, repo *recordingRepo, session config.CheckoutConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Accounts: resolver,
		Profiles: stubProfiles{profile: profile},
		Checkout: checkout,
		Logger:   logger.Nop(),
		Fees:     testFees,
		Session:  session,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateSessionScenario(t *testing.T) {
	tax := "3"
	checkout := &recordingCheckout{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1", ClientSecret: "secret"}}
	repo := &recordingRepo{}
	svc := newTestService(t, stubResolver{account: payableAccount()}, &models.MerchantProfile{TaxPercent: &tax}, checkout, repo, testCheckout)
	bookingID := uuid.New()

	handle, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID:       bookingID,
		MerchantID:      uuid.New(),
		BaseAmountCents: 20000,
		Currency:        "USD",
		PayerEmail:      "payer@example.test",
		PayerName:       "Ada",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	b := handle.Breakdown
	if b.TotalAmountCents != 21100 || b.ProcessorFeeEstimateCents != 642 || b.ApplicationFeeCents != 1142 || b.MerchantNetCents != 19958 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if handle.SessionID != "cs_1" || handle.ClientHandle != "https://checkout.test/cs_1" {
		t.Fatalf("unexpected handle %+v", handle)
	}

	params := checkout.params
	if params.ApplicationFeeCents != 1142 || params.DestinationAccountID != "acct_dest" || params.Currency != "usd" {
		t.Fatalf("unexpected checkout params %+v", params)
	}
	var lineTotal int64
	for _, item := range params.LineItems {
		lineTotal += item.AmountCents
	}
	if lineTotal != b.TotalAmountCents || len(params.LineItems) != 3 {
		t.Fatalf("line items must sum to total, got %d over %d items", lineTotal, len(params.LineItems))
	}
	if params.SuccessURL != "https://tripnest.test/bookings/"+bookingID.String()+"/confirmed" {
		t.Fatalf("unexpected success url %q", params.SuccessURL)
	}
	if params.PaymentRecordID != handle.PaymentRecordID.String() || params.IdempotencyKey == "" {
		t.Fatalf("metadata must carry the record id and a key")
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one persisted record")
	}
	record := repo.created[0]
	if record.Status != enums.PaymentStatusOpen || record.SessionID != "cs_1" || record.ID != handle.PaymentRecordID {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.TotalAmountCents != 21100 || record.ApplicationFeeCents != 1142 || record.TaxCents != 600 {
		t.Fatalf("record must persist the full breakdown: %+v", record)
	}
}

func TestCreateSessionEmbeddedUsesClientSecret(t *testing.T) {
	checkout := &recordingCheckout{session: &stripe.CheckoutSession{ID: "cs_1", ClientSecret: "cs_secret"}}
	session := testCheckout
	session.UIMode = pkgstripe.UIModeEmbedded
	svc := newTestService(t, stubResolver{account: payableAccount()}, nil, checkout, &recordingRepo{}, session)

	handle, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "eur",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if handle.ClientHandle != "cs_secret" {
		t.Fatalf("expected client secret handle, got %q", handle.ClientHandle)
	}
	// default tax is zero, so only booking and service fee rows
	if len(checkout.params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(checkout.params.LineItems))
	}
}

func TestCreateSessionRejectsNonPayableMerchant(t *testing.T) {
	restricted := payableAccount()
	restricted.Status = enums.MerchantAccountRestricted
	pending := payableAccount()
	pending.ChargesEnabled = false

	for name, account := range map[string]*models.MerchantAccount{"missing": nil, "restricted": restricted, "charges disabled": pending} {
		t.Run(name, func(t *testing.T) {
			checkout := &recordingCheckout{}
			repo := &recordingRepo{}
			svc := newTestService(t, stubResolver{account: account}, nil, checkout, repo, testCheckout)
			_, err := svc.CreateSession(context.Background(), CreateSessionInput{
				BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
			})
			if !pkgerrors.IsCode(err, pkgerrors.CodeMerchantNotPayable) {
				t.Fatalf("expected merchant not payable, got %v", err)
			}
			if meta := pkgerrors.MetadataFor(pkgerrors.CodeMerchantNotPayable); meta.HTTPStatus != 401 || meta.Retryable {
				t.Fatalf("not payable must be a non-retryable 401")
			}
			if checkout.params != nil || len(repo.created) != 0 {
				t.Fatalf("no session or record may be created")
			}
		})
	}
}

func TestCreateSessionDistinguishesProcessorOutage(t *testing.T) {
	outage := pkgerrors.New(pkgerrors.CodeDependency, "stripe get_account failed")
	svc := newTestService(t, stubResolver{err: outage}, nil, &recordingCheckout{}, &recordingRepo{}, testCheckout)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) || pkgerrors.Kind(err) != pkgerrors.KindTransient {
		t.Fatalf("expected transient dependency error, got %v", err)
	}

	checkoutErr := &recordingCheckout{err: pkgerrors.New(pkgerrors.CodeDependency, "stripe create_checkout_session failed")}
	repo := &recordingRepo{}
	svc = newTestService(t, stubResolver{account: payableAccount()}, nil, checkoutErr, repo, testCheckout)
	if _, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
	}); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("no record without a session")
	}
}

func TestCreateSessionPersistFailure(t *testing.T) {
	checkout := &recordingCheckout{session: &stripe.CheckoutSession{ID: "cs_1"}}
	svc := newTestService(t, stubResolver{account: payableAccount()}, nil, checkout, &recordingRepo{err: errors.New("db down")}, testCheckout)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestCreateSessionRecordsSessionAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	checkout := &recordingCheckout{session: &stripe.CheckoutSession{ID: "cs_gone", URL: "https://checkout.test/cs_gone"}, onCreate: cancel}
	repo := &recordingRepo{}
	svc := newTestService(t, stubResolver{account: payableAccount()}, nil, checkout, repo, testCheckout)

	handle, err := svc.CreateSession(ctx, CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(repo.created) != 1 || repo.created[0].SessionID != "cs_gone" {
		t.Fatalf("expected record for cs_gone, got %+v", repo.created)
	}
	if handle.PaymentRecordID != repo.created[0].ID {
		t.Fatalf("handle points at %s, record is %s", handle.PaymentRecordID, repo.created[0].ID)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	svc := newTestService(t, stubResolver{account: payableAccount()}, nil, &recordingCheckout{}, &recordingRepo{}, testCheckout)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{BaseAmountCents: -5, Currency: "dollars"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details := pkgerrors.As(err).Details().(map[string]string)
	for _, field := range []string{"bookingId", "merchantId", "baseAmountCents", "currency"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("missing detail for %s", field)
		}
	}
}

func TestCreateSessionRejectsInvalidStoredTax(t *testing.T) {
	bad := "three"
	svc := newTestService(t, stubResolver{account: payableAccount()}, &models.MerchantProfile{TaxPercent: &bad}, &recordingCheckout{}, &recordingRepo{}, testCheckout)
	_, err := svc.CreateSession(context.Background(), CreateSessionInput{
		BookingID: uuid.New(), MerchantID: uuid.New(), BaseAmountCents: 1000, Currency: "usd",
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}
