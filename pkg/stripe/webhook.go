package stripe

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

var errSecretRequired = errors.New("stripe webhook secret is required")

// EventVerifier authenticates webhook payloads with the endpoint secret.
type EventVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewEventVerifier builds a verifier. A zero tolerance uses the library default.
func NewEventVerifier(secret string, tolerance time.Duration) (*EventVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &EventVerifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the signature and timestamp, then decodes the event.
// Signatures older than the tolerance are rejected.
func (v *EventVerifier) Verify(payload []byte, header string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeInvalidSignature, err, "invalid stripe signature")
	}
	return event, nil
}

// Tolerance returns the accepted signature age.
func (v *EventVerifier) Tolerance() time.Duration {
	return v.tolerance
}
