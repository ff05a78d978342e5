package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"

	"github.com/tripnest/tripnest-backend/internal/fees"
	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const bookingPlaceholder = "{BOOKING_ID}"

// AccountResolver yields the merchant's refreshed settlement account.
type AccountResolver interface {
	Resolve(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error)
}

// ProfileReader supplies the merchant's tax configuration.
type ProfileReader interface {
	FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantProfile, error)
}

// CheckoutClient opens processor checkout sessions.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, params pkgstripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// ServiceParams groups the payment session dependencies.
type ServiceParams struct {
	Repo     Repository
	Accounts AccountResolver
	Profiles ProfileReader
	Checkout CheckoutClient
	Logger   *logger.Logger
	Fees     config.FeesConfig
	Session  config.CheckoutConfig
}

// Service creates destination-charge checkout sessions.
type Service struct {
	repo       Repository
	accounts   AccountResolver
	profiles   ProfileReader
	checkout   CheckoutClient
	logg       *logger.Logger
	platform   fees.FeePolicy
	processor  fees.ProcessorFeeModel
	defaultTax decimal.Decimal
	session    config.CheckoutConfig
}

// CreateSessionInput is one checkout request.
type CreateSessionInput struct {
	BookingID       uuid.UUID
	MerchantID      uuid.UUID
	BaseAmountCents int64
	Currency        string
	PayerEmail      string
	PayerName       string
}

// SessionHandle is what the payer-facing step needs.
type SessionHandle struct {
	SessionID       string         `json:"sessionId"`
	ClientHandle    string         `json:"clientHandle"`
	PaymentRecordID uuid.UUID      `json:"paymentRecordId"`
	Breakdown       fees.Breakdown `json:"breakdown"`
}

// NewService validates dependencies and resolves fee policies from config.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("payment repository required")
	}
	if params.Accounts == nil {
		return nil, errors.New("account resolver required")
	}
	if params.Profiles == nil {
		return nil, errors.New("profile reader required")
	}
	if params.Checkout == nil {
		return nil, errors.New("checkout client required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	platform, err := fees.PlatformPolicyFromConfig(params.Fees)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:       params.Repo,
		accounts:   params.Accounts,
		profiles:   params.Profiles,
		checkout:   params.Checkout,
		logg:       params.Logger,
		platform:   platform,
		processor:  fees.ProcessorModelFromConfig(params.Fees),
		defaultTax: params.Fees.DefaultTax(),
		session:    params.Session,
	}, nil
}

// CreateSession opens a checkout whose gross equals the breakdown total and
// routes everything above the application fee to the merchant. The record
// is persisted before the handle is returned.
func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (*SessionHandle, error) {
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"merchant_id": input.MerchantID.String(),
		"booking_id":  input.BookingID.String(),
	})

	account, err := s.accounts.Resolve(ctx, input.MerchantID)
	if err != nil {
		return nil, err
	}
	if !account.IsPayable() {
		return nil, notPayable(input.MerchantID, account)
	}

	tax, err := s.taxPolicy(ctx, input.MerchantID)
	if err != nil {
		return nil, err
	}
	breakdown, err := fees.ComputeBreakdown(input.BaseAmountCents, s.platform, tax, s.processor)
	if err != nil {
		return nil, err
	}

	recordID := uuid.New()
	bookingID := input.BookingID.String()
	session, err := s.checkout.CreateCheckoutSession(ctx, pkgstripe.CheckoutSessionParams{
		BookingID:            bookingID,
		MerchantID:           input.MerchantID.String(),
		PaymentRecordID:      recordID.String(),
		DestinationAccountID: account.ProcessorAccountID,
		Currency:             input.Currency,
		CustomerEmail:        input.PayerEmail,
		LineItems:            lineItems(breakdown, input.PayerName),
		ApplicationFeeCents:  breakdown.ApplicationFeeCents,
		UIMode:               s.session.UIMode,
		SuccessURL:           withBooking(s.session.SuccessURL, bookingID),
		CancelURL:            withBooking(s.session.CancelURL, bookingID),
		ReturnURL:            withBooking(s.session.ReturnURL, bookingID),
		IdempotencyKey:       pkgstripe.NewIdempotencyKey("checkout-" + bookingID),
	})
	if err != nil {
		return nil, err
	}
	// The session is live at the processor; record it even if the caller left.
	ctx = context.WithoutCancel(ctx)

	record := &models.PaymentRecord{
		ID:                        recordID,
		SessionID:                 session.ID,
		BookingID:                 input.BookingID,
		MerchantID:                input.MerchantID,
		ProcessorAccountID:        account.ProcessorAccountID,
		BaseAmountCents:           breakdown.BaseAmountCents,
		PlatformFeeCents:          breakdown.PlatformFeeCents,
		TaxCents:                  breakdown.TaxCents,
		TotalAmountCents:          breakdown.TotalAmountCents,
		ProcessorFeeEstimateCents: breakdown.ProcessorFeeEstimateCents,
		ApplicationFeeCents:       breakdown.ApplicationFeeCents,
		Currency:                  input.Currency,
		Status:                    enums.PaymentStatusOpen,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "session_id", session.ID), "checkout session opened but payment record not persisted", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist payment record")
	}

	handle := session.URL
	if s.session.UIMode == pkgstripe.UIModeEmbedded {
		handle = session.ClientSecret
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id":      session.ID,
		"total_cents":     breakdown.TotalAmountCents,
		"application_fee": breakdown.ApplicationFeeCents,
	}), "checkout session created")

	return &SessionHandle{
		SessionID:       session.ID,
		ClientHandle:    handle,
		PaymentRecordID: recordID,
		Breakdown:       breakdown,
	}, nil
}

func (s *Service) taxPolicy(ctx context.Context, merchantID uuid.UUID) (fees.TaxPolicy, error) {
	profile, err := s.profiles.FindByMerchantID(ctx, merchantID)
	if err != nil {
		return fees.TaxPolicy{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant profile")
	}
	if profile == nil || profile.TaxPercent == nil || strings.TrimSpace(*profile.TaxPercent) == "" {
		return fees.TaxPolicy{Percent: s.defaultTax}, nil
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(*profile.TaxPercent))
	if err != nil {
		return fees.TaxPolicy{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merchant tax percent is not a decimal")
	}
	return fees.TaxPolicy{Percent: percent}, nil
}

func notPayable(merchantID uuid.UUID, account *models.MerchantAccount) error {
	details := map[string]any{"merchant_id": merchantID.String()}
	if account == nil {
		details["reason"] = "no settlement account"
	} else {
		details["status"] = account.Status
		details["charges_enabled"] = account.ChargesEnabled
		details["requirements_currently_due"] = []string(account.RequirementsCurrentlyDue)
	}
	return pkgerrors.New(pkgerrors.CodeMerchantNotPayable, "merchant cannot currently accept payments").WithDetails(details)
}

func lineItems(b fees.Breakdown, payerName string) []pkgstripe.LineItem {
	booking := pkgstripe.LineItem{Name: "Activity booking", AmountCents: b.BaseAmountCents}
	if payerName = strings.TrimSpace(payerName); payerName != "" {
		booking.Description = fmt.Sprintf("Booked by %s", payerName)
	}
	items := []pkgstripe.LineItem{booking}
	if b.PlatformFeeCents > 0 {
		items = append(items, pkgstripe.LineItem{Name: "Service fee", AmountCents: b.PlatformFeeCents})
	}
	if b.TaxCents > 0 {
		items = append(items, pkgstripe.LineItem{Name: "Taxes", AmountCents: b.TaxCents})
	}
	return items
}

func withBooking(template, bookingID string) string {
	return strings.ReplaceAll(template, bookingPlaceholder, bookingID)
}

func validateInput(input CreateSessionInput) error {
	details := map[string]string{}
	if input.BookingID == uuid.Nil {
		details["bookingId"] = "required"
	}
	if input.MerchantID == uuid.Nil {
		details["merchantId"] = "required"
	}
	if input.BaseAmountCents <= 0 {
		details["baseAmountCents"] = "must be greater than zero"
	}
	if _, err := enums.ParseCurrency(input.Currency); err != nil {
		details["currency"] = "unsupported settlement currency"
	}
	if len(details) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout request").WithDetails(details)
}
