package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/types"
)

// Detail keys copied onto the error log line for correlation.
var loggedDetailKeys = []string{"step", "merchant_id", "refund_id"}

var callerMessageCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:         {},
	pkgerrors.CodeNotFound:           {},
	pkgerrors.CodeConflict:           {},
	pkgerrors.CodeStateConflict:      {},
	pkgerrors.CodeIdempotency:        {},
	pkgerrors.CodeRateLimit:          {},
	pkgerrors.CodeMerchantNotPayable: {},
	pkgerrors.CodeInsufficientFunds:  {},
	pkgerrors.CodeInvalidSignature:   {},
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	publicCode := typed.Code()
	if meta.PublicCode != "" {
		publicCode = meta.PublicCode
	}
	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(publicCode),
			Message: publicMessage(typed, meta),
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		fields := pkgerrors.Dump(err).Fields()
		if dm, ok := typed.Details().(map[string]any); ok {
			for _, key := range loggedDetailKeys {
				if v, ok := dm[key]; ok {
					fields[key] = v
				}
			}
		}
		ctx = logg.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.Warn(ctx, "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

// publicMessage keeps the caller-facing text for client errors and falls
// back to the generic message for everything else.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if _, ok := callerMessageCodes[typed.Code()]; ok && typed.Message() != "" {
		return typed.Message()
	}
	return meta.PublicMessage
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
