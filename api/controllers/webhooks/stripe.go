package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/tripnest/tripnest-backend/api/responses"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const maxWebhookBodyBytes = 65536

// StripeReconciler applies verified processor events.
type StripeReconciler interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) error
}

// StripeWebhook hands the raw delivery to the reconciler. Duplicates and
// ignored events still answer 200 so the processor stops retrying.
func StripeWebhook(reconciler StripeReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if reconciler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook reconciler unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBodyBytes {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large"))
			return
		}

		sigHeader := r.Header.Get(pkgstripe.SignatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "stripe signature missing"))
			return
		}

		if err := reconciler.Handle(ctx, payload, sigHeader); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
