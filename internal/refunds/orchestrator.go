package refunds

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/internal/fees"
	"github.com/tripnest/tripnest-backend/internal/notifications"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
	"github.com/tripnest/tripnest-backend/pkg/outbox/payloads"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const (
	reasonInsufficientBalance = "insufficient merchant balance"
	reasonProcessorDeclined   = "processor reported insufficient funds"
)

// PaymentReader loads the payment being refunded.
type PaymentReader interface {
	FindByPaymentRef(ctx context.Context, ref string) (*models.PaymentRecord, error)
}

// AccountReader loads the merchant's stored settlement account.
type AccountReader interface {
	FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error)
}

// ProcessorClient is the subset of the processor used for refunds.
type ProcessorClient interface {
	GetAccountBalance(ctx context.Context, accountID string) (*stripe.Balance, error)
	CreateRefund(ctx context.Context, params pkgstripe.RefundCreateParams) (*stripe.Refund, error)
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrchestratorParams groups the refund dependencies.
type OrchestratorParams struct {
	Payments      PaymentReader
	Accounts      AccountReader
	Refunds       Repository
	Processor     ProcessorClient
	Notifications notifications.Gateway
	DB            Transactor
	Logger        *logger.Logger
	Metrics       *metrics.SettlementMetrics
	Now           func() time.Time
}

// Orchestrator refunds destination charges, pulling funds back from the
// merchant when possible and absorbing the refund on the platform otherwise.
type Orchestrator struct {
	payments  PaymentReader
	accounts  AccountReader
	refunds   Repository
	processor ProcessorClient
	notify    notifications.Gateway
	db        Transactor
	logg      *logger.Logger
	metrics   *metrics.SettlementMetrics
	now       func() time.Time
}

// RefundInput is one refund request. A nil AmountCents refunds whatever the
// processor still holds for the payment; a nil ReverseTransfer means true.
type RefundInput struct {
	PaymentIntentRef     string
	AmountCents          *int64
	RefundApplicationFee bool
	ReverseTransfer      *bool
	Reason               string
}

// NewOrchestrator validates dependencies and returns an Orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Payments == nil {
		return nil, errors.New("payment reader required")
	}
	if params.Accounts == nil {
		return nil, errors.New("account reader required")
	}
	if params.Refunds == nil {
		return nil, errors.New("refund repository required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor client required")
	}
	if params.Notifications == nil {
		return nil, errors.New("notification gateway required")
	}
	if params.DB == nil {
		return nil, errors.New("transactor required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		payments:  params.Payments,
		accounts:  params.Accounts,
		refunds:   params.Refunds,
		processor: params.Processor,
		notify:    params.Notifications,
		db:        params.DB,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

// plan is one validated refund. amount is zero for "refund the remainder",
// in which case the processor decides the figure and coverAmount bounds the
// balance check.
type plan struct {
	payment   *models.PaymentRecord
	account   *models.MerchantAccount
	amount    int64
	reverse   bool
	refundFee bool
	reason    string
	intentID  string
}

// Refund issues a refund and records which path ran. Once the processor has
// accepted a refund the remaining bookkeeping ignores caller cancellation.
func (o *Orchestrator) Refund(ctx context.Context, input RefundInput) (*models.RefundRecord, error) {
	p, err := o.prepare(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithFields(ctx, map[string]any{
		"merchant_id":       p.payment.MerchantID.String(),
		"payment_record_id": p.payment.ID.String(),
		"amount_cents":      p.amount,
		"full_remainder":    p.amount == 0,
	})

	if !p.reverse {
		refund, err := o.issue(ctx, p, false)
		if err != nil {
			return nil, err
		}
		return o.record(ctx, p, refund, enums.RefundPathDirect, "")
	}

	fallbackReason := o.checkBalance(ctx, p)
	if fallbackReason == "" {
		refund, err := o.issue(ctx, p, true)
		switch {
		case err == nil:
			return o.record(ctx, p, refund, enums.RefundPathReversed, "")
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds):
			fallbackReason = reasonProcessorDeclined
		default:
			return nil, err
		}
	}

	o.logg.Warn(o.logg.WithField(ctx, "fallback_reason", fallbackReason), "reversing refund unavailable, refunding from platform balance")
	refund, err := o.issue(ctx, p, false)
	if err != nil {
		return nil, o.financialException(ctx, p, fallbackReason, err)
	}
	return o.record(ctx, p, refund, enums.RefundPathFallback, fallbackReason)
}

func (o *Orchestrator) prepare(ctx context.Context, input RefundInput) (*plan, error) {
	ref := strings.TrimSpace(input.PaymentIntentRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund request").
			WithDetails(map[string]string{"paymentIntentRef": "required"})
	}
	if input.AmountCents != nil && *input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund request").
			WithDetails(map[string]string{"amountCents": "must be greater than zero"})
	}

	payment, err := o.payments.FindByPaymentRef(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment record")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.Status != enums.PaymentStatusCompleted || payment.PaymentIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable").
			WithDetails(map[string]any{"status": payment.Status})
	}

	// Earlier refunds are the processor's business; it rejects over-refunds.
	var amount int64
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}
	if amount > payment.TotalAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds payment total").
			WithDetails(map[string]any{
				"amountCents": amount,
				"totalCents":  payment.TotalAmountCents,
			})
	}

	account, err := o.accounts.FindByMerchantID(ctx, payment.MerchantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant settlement account not found")
	}

	p := &plan{
		payment:   payment,
		account:   account,
		amount:    amount,
		reverse:   input.ReverseTransfer == nil || *input.ReverseTransfer,
		refundFee: input.RefundApplicationFee,
		reason:    strings.TrimSpace(input.Reason),
		intentID:  *payment.PaymentIntentID,
	}
	return p, nil
}

// coverAmount is what the merchant balance must hold for a reversing refund.
// Without an explicit amount the payment total is the upper bound.
func (p *plan) coverAmount() int64 {
	if p.amount > 0 {
		return p.amount
	}
	return p.payment.TotalAmountCents
}

// checkBalance returns a fallback reason when the merchant cannot cover the
// refund. A failed balance read is not conclusive; the processor decides.
func (o *Orchestrator) checkBalance(ctx context.Context, p *plan) string {
	balance, err := o.processor.GetAccountBalance(ctx, p.account.ProcessorAccountID)
	if err != nil {
		o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "merchant balance unavailable, attempting reversing refund")
		return ""
	}
	spendable := pkgstripe.SpendableAmount(balance, p.payment.Currency)
	if spendable < p.coverAmount() {
		o.logg.Info(o.logg.WithField(ctx, "spendable_cents", spendable), "merchant balance below refund amount")
		return reasonInsufficientBalance
	}
	return ""
}

func (o *Orchestrator) issue(ctx context.Context, p *plan, reverse bool) (*stripe.Refund, error) {
	metadata := map[string]string{
		"payment_record_id": p.payment.ID.String(),
		"merchant_id":       p.payment.MerchantID.String(),
		"booking_id":        p.payment.BookingID.String(),
	}
	if p.reason != "" {
		metadata["reason"] = p.reason
	}
	return o.processor.CreateRefund(ctx, pkgstripe.RefundCreateParams{
		PaymentIntentID:      p.intentID,
		AmountCents:          p.amount,
		ReverseTransfer:      reverse,
		RefundApplicationFee: p.refundFee,
		Reason:               stripeReason(p.reason),
		Metadata:             metadata,
		IdempotencyKey:       pkgstripe.NewIdempotencyKey("refund-" + p.payment.ID.String()),
	})
}

func (o *Orchestrator) record(ctx context.Context, p *plan, refund *stripe.Refund, path enums.RefundPath, fallbackReason string) (*models.RefundRecord, error) {
	ctx = context.WithoutCancel(ctx)
	refunded := refund.Amount
	if refunded <= 0 {
		refunded = p.coverAmount()
	}
	var feeRefund int64
	if p.refundFee {
		feeRefund = fees.ProratedApplicationFee(p.payment.ApplicationFeeCents, p.payment.TotalAmountCents, refunded)
	}
	rec := &models.RefundRecord{
		PaymentRecordID:           p.payment.ID,
		PaymentIntentRef:          p.intentID,
		MerchantID:                p.payment.MerchantID,
		RequestedAmountCents:      refunded,
		Currency:                  p.payment.Currency,
		RefundApplicationFee:      p.refundFee,
		ApplicationFeeRefundCents: feeRefund,
		ReverseTransfer:           p.reverse,
		UsedFallback:              path == enums.RefundPathFallback,
		ResultingRefundID:         refund.ID,
		CreatedAt:                 o.now().UTC(),
	}
	if fallbackReason != "" {
		rec.FallbackReason = &fallbackReason
	}
	o.metrics.IncRefund(string(path))
	if err := o.refunds.Create(ctx, rec); err != nil {
		o.logg.Error(o.logg.WithField(ctx, "refund_id", refund.ID), "refund issued but not recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist refund record").
			WithDetails(map[string]any{"refundId": refund.ID})
	}
	o.logg.Info(o.logg.WithFields(ctx, map[string]any{
		"refund_id":   refund.ID,
		"refund_path": path,
	}), "refund issued")
	return rec, nil
}

// financialException handles a refund that failed on every path. The payer
// was not refunded, so support has to act.
func (o *Orchestrator) financialException(ctx context.Context, p *plan, fallbackReason string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logCtx := o.logg.WithFields(ctx, map[string]any{
		"financial_exception": true,
		"fallback_reason":     fallbackReason,
		"payment_intent":      p.intentID,
	})
	o.logg.Error(logCtx, "fallback refund failed", cause)

	escalation := payloads.RefundExceptionEscalatedEvent{
		PaymentRecordID:  p.payment.ID,
		MerchantID:       p.payment.MerchantID,
		PaymentIntentRef: p.intentID,
		AmountCents:      p.coverAmount(),
		Currency:         p.payment.Currency,
		Reason:           fallbackReason,
		Error:            cause.Error(),
	}
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := o.notify.Escalate(ctx, tx, notifications.Escalation{
			EventType:     enums.EventRefundExceptionEscalated,
			AggregateType: enums.AggregatePaymentRecord,
			AggregateID:   p.payment.ID,
			Payload:       escalation,
		}); err != nil {
			return err
		}
		return o.notify.Notify(ctx, tx, notifications.Message{
			Kind:          enums.NotificationRefundException,
			Recipient:     o.notify.SupportRecipient(),
			MerchantID:    p.payment.MerchantID,
			AggregateType: enums.AggregatePaymentRecord,
			AggregateID:   p.payment.ID,
			Subject:       "Refund could not be issued",
			Data: map[string]any{
				"payment_intent": p.intentID,
				"amount_cents":   p.coverAmount(),
				"currency":       p.payment.Currency,
				"reason":         fallbackReason,
			},
		})
	})
	if err != nil {
		o.logg.Error(logCtx, "refund escalation not enqueued", err)
	}
	return cause
}

func stripeReason(reason string) string {
	switch reason {
	case string(stripe.RefundReasonDuplicate), string(stripe.RefundReasonFraudulent), string(stripe.RefundReasonRequestedByCustomer):
		return reason
	}
	return ""
}
