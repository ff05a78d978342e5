package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/internal/notifications"
	"github.com/tripnest/tripnest-backend/internal/payments"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
)

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// Verifier authenticates and decodes a webhook delivery.
type Verifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

// Guard is the fast duplicate check in front of the database.
type Guard interface {
	Claim(ctx context.Context, event *stripe.Event) (bool, error)
	Release(ctx context.Context, event *stripe.Event) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReconcilerParams groups the webhook dependencies.
type ReconcilerParams struct {
	Verifier      Verifier
	Guard         Guard
	DB            txRunner
	Events        EventStore
	Accounts      merchants.Repository
	Profiles      merchants.ProfileRepository
	Payments      payments.Repository
	Notifications notifications.Gateway
	Logger        *logger.Logger
	Metrics       *metrics.SettlementMetrics
	Now           func() time.Time
}

// Reconciler applies processor events to local settlement state. Each event
// is applied at most once.
type Reconciler struct {
	verifier Verifier
	guard    Guard
	db       txRunner
	events   EventStore
	accounts merchants.Repository
	profiles merchants.ProfileRepository
	payments payments.Repository
	notify   notifications.Gateway
	logg     *logger.Logger
	metrics  *metrics.SettlementMetrics
	now      func() time.Time
}

type handlerFunc func(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error)

// NewReconciler validates the dependencies and builds a Reconciler.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "delivery guard required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	}
	if params.Accounts == nil || params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "merchant repositories required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repository required")
	}
	if params.Notifications == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification gateway required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		verifier: params.Verifier,
		guard:    params.Guard,
		db:       params.DB,
		events:   params.Events,
		accounts: params.Accounts,
		profiles: params.Profiles,
		payments: params.Payments,
		notify:   params.Notifications,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Handle verifies and applies one delivery. Duplicates and unhandled event
// types return nil so the processor stops redelivering them.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := r.verifier.Verify(payload, signatureHeader)
	if err != nil {
		r.metrics.IncWebhook("unknown", outcomeRejected)
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stripe webhook rejected")
		return err
	}
	eventType := string(event.Type)
	ctx = r.logg.WithEventID(ctx, event.ID)
	ctx = r.logg.WithFields(ctx, map[string]any{"event_type": eventType, "livemode": event.Livemode})

	claimed, err := r.guard.Claim(ctx, &event)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook guard unavailable, relying on database dedupe")
	} else if !claimed {
		r.metrics.IncWebhook(eventType, outcomeDuplicate)
		r.logg.Info(ctx, "duplicate stripe webhook skipped")
		return nil
	}

	outcome := outcomeProcessed
	err = r.db.WithTx(ctx, func(tx *gorm.DB) error {
		claimed, err := r.events.MarkProcessed(ctx, tx, event.ID, eventType, r.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record processed event")
		}
		if !claimed {
			outcome = outcomeDuplicate
			return nil
		}
		handler, ok := r.handlerFor(event.Type)
		if !ok {
			outcome = outcomeIgnored
			return nil
		}
		outcome, err = handler(ctx, tx, &event)
		return err
	})
	if err != nil {
		if delErr := r.guard.Release(context.WithoutCancel(ctx), &event); delErr != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", delErr.Error()), "failed to release webhook guard")
		}
		r.metrics.IncWebhook(eventType, outcomeError)
		r.logg.Error(ctx, "stripe webhook handling failed", err)
		return err
	}

	r.metrics.IncWebhook(eventType, outcome)
	r.logg.Info(r.logg.WithField(ctx, "outcome", outcome), "stripe webhook handled")
	return nil
}

func (r *Reconciler) handlerFor(eventType stripe.EventType) (handlerFunc, bool) {
	switch eventType {
	case stripe.EventTypePayoutFailed:
		return r.handlePayoutFailed, true
	case stripe.EventTypeAccountUpdated:
		return r.handleAccountUpdated, true
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return r.handleCheckoutCompleted, true
	case stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return r.handleCheckoutFailed, true
	default:
		return nil, false
	}
}

func (r *Reconciler) handleAccountUpdated(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error) {
	var acct stripe.Account
	if err := decodeObject(event, &acct); err != nil {
		return "", err
	}
	repo := r.accounts.WithTx(tx)
	stored, err := repo.FindByProcessorAccountID(ctx, acct.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	}
	if stored == nil {
		r.logg.Warn(r.logg.WithField(ctx, "account_id", acct.ID), "account update for unknown settlement account")
		return outcomeIgnored, nil
	}
	updated := merchants.ApplyProcessorAccount(stored, stored.MerchantID, &acct, r.now())
	if _, err := repo.Upsert(ctx, updated); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sync merchant account")
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"merchant_id": stored.MerchantID.String(),
		"status":      updated.Status,
	}), "settlement account synced from webhook")
	return outcomeProcessed, nil
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// async methods settle later through async_payment_succeeded
		return outcomeIgnored, nil
	}
	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	moved, err := r.payments.WithTx(tx).MarkCompleted(ctx, session.ID, intentID, r.now())
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete payment record")
	}
	if !moved {
		r.logg.Warn(r.logg.WithField(ctx, "session_id", session.ID), "checkout completion for unknown or settled payment")
		return outcomeIgnored, nil
	}
	return outcomeProcessed, nil
}

func (r *Reconciler) handleCheckoutFailed(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return "", err
	}
	moved, err := r.payments.WithTx(tx).MarkFailed(ctx, session.ID, r.now())
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail payment record")
	}
	if !moved {
		return outcomeIgnored, nil
	}
	return outcomeProcessed, nil
}

func decodeObject(event *stripe.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object")
	}
	return nil
}
