package stripewebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/internal/notifications"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/outbox/payloads"
)

// Failure codes that need a human to fix the merchant's bank details.
var nonTransientFailureCodes = map[stripe.PayoutFailureCode]struct{}{
	stripe.PayoutFailureCodeAccountClosed:                 {},
	stripe.PayoutFailureCodeAccountFrozen:                 {},
	stripe.PayoutFailureCodeBankAccountRestricted:         {},
	stripe.PayoutFailureCodeBankOwnershipChanged:          {},
	stripe.PayoutFailureCodeDebitNotAuthorized:            {},
	stripe.PayoutFailureCodeIncorrectAccountHolderAddress: {},
	stripe.PayoutFailureCodeIncorrectAccountHolderName:    {},
	stripe.PayoutFailureCodeIncorrectAccountHolderTaxID:   {},
	stripe.PayoutFailureCodeInvalidAccountNumber:          {},
	stripe.PayoutFailureCodeInvalidCurrency:               {},
	stripe.PayoutFailureCodeNoAccount:                     {},
	stripe.PayoutFailureCodeUnsupportedCard:               {},
}

// IsNonTransientFailure reports whether a payout failure will repeat until
// the merchant's bank details change.
func IsNonTransientFailure(code string) bool {
	_, ok := nonTransientFailureCodes[stripe.PayoutFailureCode(strings.TrimSpace(code))]
	return ok
}

// EscalationLevelFor picks how far a payout failure is escalated.
func EscalationLevelFor(failureCode string, hasContactEmail bool) enums.EscalationLevel {
	switch {
	case IsNonTransientFailure(failureCode):
		return enums.EscalationFlaggedForReview
	case hasContactEmail:
		return enums.EscalationAgencyNotified
	default:
		return enums.EscalationInternalNotified
	}
}

func (r *Reconciler) handlePayoutFailed(ctx context.Context, tx *gorm.DB, event *stripe.Event) (string, error) {
	var payout stripe.Payout
	if err := decodeObject(event, &payout); err != nil {
		return "", err
	}
	if event.Account == "" {
		r.logg.Warn(ctx, "payout failure without connected account")
		return outcomeIgnored, nil
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"account_id":   event.Account,
		"payout_id":    payout.ID,
		"failure_code": string(payout.FailureCode),
	})

	account, err := r.accounts.WithTx(tx).FindByProcessorAccountID(ctx, event.Account)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant account")
	}
	if account == nil {
		r.logg.Warn(ctx, "payout failure for unknown settlement account")
		return outcomeIgnored, nil
	}
	ctx = r.logg.WithMerchantID(ctx, account.MerchantID.String())

	profile, err := r.profiles.WithTx(tx).FindByMerchantID(ctx, account.MerchantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant profile")
	}
	contact := ""
	businessName := ""
	if profile != nil {
		businessName = profile.BusinessName
		if profile.ContactEmail != nil {
			contact = strings.TrimSpace(*profile.ContactEmail)
		}
	}

	failureCode := string(payout.FailureCode)
	level := EscalationLevelFor(failureCode, contact != "")
	record := &models.PayoutFailureEvent{
		EventID:            event.ID,
		PayoutID:           payout.ID,
		MerchantID:         account.MerchantID,
		ProcessorAccountID: account.ProcessorAccountID,
		AmountCents:        payout.Amount,
		Currency:           string(payout.Currency),
		FailureCode:        failureCode,
		FailureMessage:     payout.FailureMessage,
		EscalationLevel:    level,
		CreatedAt:          r.now().UTC(),
	}
	inserted, err := r.events.InsertPayoutFailure(ctx, tx, record)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payout failure")
	}
	if !inserted {
		r.logg.Info(ctx, "payout failure already recorded")
		return outcomeDuplicate, nil
	}

	data := map[string]any{
		"payout_id":       payout.ID,
		"amount_cents":    payout.Amount,
		"currency":        string(payout.Currency),
		"failure_code":    failureCode,
		"failure_message": payout.FailureMessage,
		"business_name":   businessName,
	}
	if contact != "" {
		if err := r.notify.Notify(ctx, tx, notifications.Message{
			Kind:          enums.NotificationPayoutFailedMerchant,
			Recipient:     contact,
			MerchantID:    account.MerchantID,
			AggregateType: enums.AggregatePayoutFailure,
			AggregateID:   record.ID,
			Subject:       "Your payout could not be delivered",
			Data:          data,
		}); err != nil {
			return "", err
		}
	}
	supportData := make(map[string]any, len(data)+1)
	for k, v := range data {
		supportData[k] = v
	}
	supportData["escalation_level"] = string(level)
	if err := r.notify.Notify(ctx, tx, notifications.Message{
		Kind:          enums.NotificationPayoutFailedSupport,
		Recipient:     r.notify.SupportRecipient(),
		MerchantID:    account.MerchantID,
		AggregateType: enums.AggregatePayoutFailure,
		AggregateID:   record.ID,
		Subject:       fmt.Sprintf("Payout %s failed (%s)", payout.ID, failureCode),
		Data:          supportData,
	}); err != nil {
		return "", err
	}

	if level == enums.EscalationFlaggedForReview {
		reason := "payout failed: " + failureCode
		if err := r.accounts.WithTx(tx).MarkRequiresReview(ctx, account.ID, reason); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flag merchant for review")
		}
		if err := r.notify.Escalate(ctx, tx, notifications.Escalation{
			EventType:     enums.EventMerchantReviewEscalated,
			AggregateType: enums.AggregatePayoutFailure,
			AggregateID:   record.ID,
			Payload: payloads.MerchantReviewEscalatedEvent{
				MerchantID:         account.MerchantID,
				ProcessorAccountID: account.ProcessorAccountID,
				PayoutID:           payout.ID,
				FailureCode:        failureCode,
				FailureMessage:     payout.FailureMessage,
				AmountCents:        payout.Amount,
				Currency:           string(payout.Currency),
			},
		}); err != nil {
			return "", err
		}
	}

	r.logg.Warn(r.logg.WithField(ctx, "escalation_level", string(level)), "payout failure recorded")
	return outcomeProcessed, nil
}
