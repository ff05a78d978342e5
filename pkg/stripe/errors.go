package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"

	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
)

// isNetworkError reports whether err is safe to retry with the same
// idempotency key: transport failures and Stripe 5xx api errors.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return true
	}
	return stripeErr.Type == stripe.ErrorTypeAPI && stripeErr.HTTPStatusCode >= http.StatusInternalServerError
}

func mapStripeError(err error, op string) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf("stripe %s failed", op)

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}

	details := map[string]any{
		"stripe_type":   string(stripeErr.Type),
		"stripe_code":   string(stripeErr.Code),
		"stripe_status": stripeErr.HTTPStatusCode,
	}
	if stripeErr.RequestID != "" {
		details["stripe_request_id"] = stripeErr.RequestID
	}

	code := domainCodeForStatus(stripeErr.HTTPStatusCode)
	switch {
	case stripeErr.Code == stripe.ErrorCodeBalanceInsufficient || stripeErr.Code == stripe.ErrorCodeInsufficientFunds:
		code = pkgerrors.CodeInsufficientFunds
	case stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse || stripeErr.Type == stripe.ErrorTypeIdempotency:
		code = pkgerrors.CodeIdempotency
	case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
		code = pkgerrors.CodeProcessorAuth
	}
	return pkgerrors.Wrap(code, err, message).WithDetails(details)
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeProcessorAuth
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest, http.StatusPaymentRequired:
		return pkgerrors.CodeValidation
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}
