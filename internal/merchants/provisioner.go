package merchants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
	"github.com/tripnest/tripnest-backend/pkg/redis"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const lockScope = "provision"

var validBusinessTypes = map[string]struct{}{
	string(stripe.AccountBusinessTypeIndividual):       {},
	string(stripe.AccountBusinessTypeCompany):          {},
	string(stripe.AccountBusinessTypeNonProfit):        {},
	string(stripe.AccountBusinessTypeGovernmentEntity): {},
}

// ProcessorClient is the subset of the processor used for connected accounts.
type ProcessorClient interface {
	CreateAccount(ctx context.Context, params pkgstripe.AccountCreateParams) (*stripe.Account, error)
	GetAccount(ctx context.Context, accountID string) (*stripe.Account, error)
	FindAccountByMerchant(ctx context.Context, merchantID string, maxPages int) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*stripe.AccountLink, error)
}

// LockStore backs the per-merchant provisioning lock.
type LockStore interface {
	redis.LockStore
	LockKey(scope, id string) string
}

// ProvisionInput identifies the account to provision.
type ProvisionInput struct {
	MerchantID   uuid.UUID
	Country      string
	BusinessType string
}

// ProvisionerParams groups the provisioner dependencies.
type ProvisionerParams struct {
	Repo       Repository
	Profiles   ProfileRepository
	Processor  ProcessorClient
	Locks      LockStore
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics
	Config     config.ProvisioningConfig
	Onboarding config.OnboardingConfig
	Now        func() time.Time
}

// Provisioner creates or retrieves a merchant's connected settlement account.
type Provisioner struct {
	repo       Repository
	profiles   ProfileRepository
	processor  ProcessorClient
	locks      LockStore
	logg       *logger.Logger
	metrics    *metrics.SettlementMetrics
	cfg        config.ProvisioningConfig
	onboarding config.OnboardingConfig
	now        func() time.Time
}

// NewProvisioner validates dependencies and returns a Provisioner.
func NewProvisioner(params ProvisionerParams) (*Provisioner, error) {
	if params.Repo == nil {
		return nil, errors.New("merchant account repository required")
	}
	if params.Profiles == nil {
		return nil, errors.New("merchant profile repository required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor client required")
	}
	if params.Locks == nil {
		return nil, errors.New("lock store required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	cfg := params.Config
	if cfg.WaitAttempts <= 0 {
		cfg.WaitAttempts = 10
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 500 * time.Millisecond
	}
	if cfg.SearchPageLimit <= 0 {
		cfg.SearchPageLimit = 10
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Provisioner{
		repo:       params.Repo,
		profiles:   params.Profiles,
		processor:  params.Processor,
		locks:      params.Locks,
		logg:       params.Logger,
		metrics:    params.Metrics,
		cfg:        cfg,
		onboarding: params.Onboarding,
		now:        now,
	}, nil
}

// Provision returns the merchant's settlement account, creating it on the
// processor only when neither the store nor a metadata search finds one.
// Concurrent callers for the same merchant are serialized by a Redis lock;
// losers wait for the winner's row or get a retryable conflict.
func (p *Provisioner) Provision(ctx context.Context, input ProvisionInput) (*models.MerchantAccount, error) {
	input.Country = strings.ToUpper(strings.TrimSpace(input.Country))
	input.BusinessType = strings.ToLower(strings.TrimSpace(input.BusinessType))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	ctx = p.logg.WithMerchantID(ctx, input.MerchantID.String())

	account, err := p.Resolve(ctx, input.MerchantID)
	if err != nil {
		p.metrics.IncProvisioning("error")
		return nil, err
	}
	if account != nil {
		p.metrics.IncProvisioning("existing")
		return account, nil
	}

	lock, err := redis.NewLock(p.locks, p.locks.LockKey(lockScope, input.MerchantID.String()), p.cfg.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provisioning lock")
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		p.metrics.IncProvisioning("error")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire provisioning lock")
	}
	if !acquired {
		return p.waitForAccount(ctx, input.MerchantID)
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			p.logg.Error(ctx, "failed to release provisioning lock", relErr)
		}
	}()

	// The previous holder may have finished between the lookup and the lock.
	if existing, err := p.repo.FindByMerchantID(ctx, input.MerchantID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	} else if existing != nil {
		p.metrics.IncProvisioning("existing")
		return existing, nil
	}

	account, outcome, err := p.provisionLocked(ctx, input)
	if err != nil {
		p.metrics.IncProvisioning("error")
		return nil, err
	}
	p.metrics.IncProvisioning(outcome)
	return account, nil
}

// Resolve returns the stored account refreshed from the processor, or nil
// when the merchant has none. It never creates accounts.
func (p *Provisioner) Resolve(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error) {
	account, err := p.repo.FindByMerchantID(ctx, merchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	}
	if account == nil {
		return nil, nil
	}
	return p.RefreshAccount(ctx, account)
}

// RefreshAccount re-reads the live processor state and persists it.
func (p *Provisioner) RefreshAccount(ctx context.Context, account *models.MerchantAccount) (*models.MerchantAccount, error) {
	acct, err := p.processor.GetAccount(ctx, account.ProcessorAccountID)
	if err != nil {
		return nil, annotate(err, "refresh settlement account", map[string]any{
			"merchant_id":          account.MerchantID.String(),
			"processor_account_id": account.ProcessorAccountID,
		})
	}
	updated := ApplyProcessorAccount(account, account.MerchantID, acct, p.now())
	stored, err := p.repo.Upsert(ctx, updated)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist merchant account")
	}
	return stored, nil
}

// Account returns the stored account without contacting the processor.
func (p *Provisioner) Account(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error) {
	account, err := p.repo.FindByMerchantID(ctx, merchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement account not found")
	}
	return account, nil
}

// CreateOnboardingLink returns a hosted URL where the agency completes the
// requirements the processor still needs.
func (p *Provisioner) CreateOnboardingLink(ctx context.Context, merchantID uuid.UUID) (string, error) {
	account, err := p.Account(ctx, merchantID)
	if err != nil {
		return "", err
	}
	link, err := p.processor.CreateAccountLink(ctx, account.ProcessorAccountID, p.onboarding.RefreshURL, p.onboarding.ReturnURL)
	if err != nil {
		return "", annotate(err, "create onboarding link", map[string]any{
			"merchant_id":          merchantID.String(),
			"processor_account_id": account.ProcessorAccountID,
		})
	}
	return link.URL, nil
}

func (p *Provisioner) provisionLocked(ctx context.Context, input ProvisionInput) (*models.MerchantAccount, string, error) {
	details := map[string]any{
		"merchant_id":   input.MerchantID.String(),
		"country":       input.Country,
		"business_type": input.BusinessType,
	}

	found, err := p.searchProcessor(ctx, input.MerchantID, details)
	if err != nil {
		return nil, "", err
	}
	if found != nil {
		p.logg.Warn(p.logg.WithField(ctx, "processor_account_id", found.ID), "recovered settlement account missing from store")
		account, err := p.persist(ctx, input, found)
		return account, "recovered", err
	}

	profile, err := p.profiles.FindByMerchantID(ctx, input.MerchantID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant profile").WithDetails(details)
	}
	if profile == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeNotFound, "merchant profile not found").WithDetails(details)
	}

	params := buildAccountParams(input, profile)
	params.IdempotencyKey = fmt.Sprintf("acct-create-%s-%d", input.MerchantID, p.now().UnixNano())
	details["payload_fields"] = params.FieldNames()

	acct, err := p.processor.CreateAccount(ctx, params)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeIdempotency) {
			return nil, "", annotate(err, "create settlement account", details)
		}
		p.logg.Warn(ctx, "account creation hit an idempotency conflict; searching processor")
		found, searchErr := p.searchProcessor(ctx, input.MerchantID, details)
		if searchErr != nil {
			return nil, "", searchErr
		}
		if found == nil {
			return nil, "", annotate(err, "create settlement account", details)
		}
		account, err := p.persist(ctx, input, found)
		return account, "recovered", err
	}

	p.logg.Info(p.logg.WithField(ctx, "processor_account_id", acct.ID), "settlement account created")
	account, err := p.persist(ctx, input, acct)
	return account, "created", err
}

func (p *Provisioner) searchProcessor(ctx context.Context, merchantID uuid.UUID, details map[string]any) (*stripe.Account, error) {
	found, err := p.processor.FindAccountByMerchant(ctx, merchantID.String(), p.cfg.SearchPageLimit)
	if err != nil {
		return nil, annotate(err, "search settlement accounts", details)
	}
	return found, nil
}

// persist stores an account the processor already holds. The write outlives
// the caller so a dropped request cannot orphan the processor account.
func (p *Provisioner) persist(ctx context.Context, input ProvisionInput, acct *stripe.Account) (*models.MerchantAccount, error) {
	ctx = context.WithoutCancel(ctx)
	account := ApplyProcessorAccount(nil, input.MerchantID, acct, p.now())
	if account.Country == "" {
		account.Country = input.Country
	}
	if account.BusinessType == "" {
		account.BusinessType = input.BusinessType
	}

	stored, err := p.repo.Upsert(ctx, account)
	if err == nil {
		return stored, nil
	}
	if db.IsUniqueViolation(err, "") {
		existing, findErr := p.repo.FindByMerchantID(ctx, input.MerchantID)
		if findErr == nil && existing != nil {
			return existing, nil
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist merchant account").WithDetails(map[string]any{
		"merchant_id":          input.MerchantID.String(),
		"processor_account_id": acct.ID,
	})
}

func (p *Provisioner) waitForAccount(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error) {
	p.logg.Info(ctx, "provisioning in progress elsewhere; waiting")
	timer := time.NewTimer(p.cfg.WaitInterval)
	defer timer.Stop()
	for attempt := 0; attempt < p.cfg.WaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ctx.Err(), "provisioning in progress, retry shortly")
		case <-timer.C:
		}
		account, err := p.repo.FindByMerchantID(ctx, merchantID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
		}
		if account != nil {
			p.metrics.IncProvisioning("waited")
			return account, nil
		}
		timer.Reset(p.cfg.WaitInterval)
	}
	p.metrics.IncProvisioning("in_progress")
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "provisioning in progress, retry shortly").WithDetails(map[string]any{
		"merchant_id": merchantID.String(),
	})
}

// annotate attaches replay context to processor failures. Authentication
// failures pass through untouched.
func annotate(err error, message string, details map[string]any) error {
	if pkgerrors.IsCode(err, pkgerrors.CodeProcessorAuth) {
		return err
	}
	code := pkgerrors.CodeDependency
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	return pkgerrors.Wrap(code, err, message).WithDetails(details)
}

func validateInput(input ProvisionInput) error {
	details := map[string]string{}
	if input.MerchantID == uuid.Nil {
		details["merchantId"] = "required"
	}
	if len(input.Country) != 2 {
		details["country"] = "must be an ISO 3166-1 alpha-2 code"
	}
	if _, ok := validBusinessTypes[input.BusinessType]; !ok {
		details["businessType"] = "must be individual, company, non_profit or government_entity"
	}
	if len(details) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid provisioning request").WithDetails(details)
}
