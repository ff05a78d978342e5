package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v76"
)

// RefundCreateParams describes a refund of a destination charge. A zero
// AmountCents asks the processor to refund whatever remains on the charge.
type RefundCreateParams struct {
	PaymentIntentID      string
	AmountCents          int64
	ReverseTransfer      bool
	RefundApplicationFee bool
	Reason               string
	Metadata             map[string]string
	IdempotencyKey       string
}

func (p RefundCreateParams) toStripe() *stripe.RefundParams {
	params := &stripe.RefundParams{
		PaymentIntent:        stripe.String(p.PaymentIntentID),
		ReverseTransfer:      stripe.Bool(p.ReverseTransfer),
		RefundApplicationFee: stripe.Bool(p.RefundApplicationFee),
	}
	if p.AmountCents > 0 {
		params.Amount = stripe.Int64(p.AmountCents)
	}
	if p.Reason != "" {
		params.Reason = stripe.String(p.Reason)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// CreateRefund issues a refund. The request is not abandoned when ctx is
// canceled, so a refund in flight always resolves.
func (c *Client) CreateRefund(ctx context.Context, params RefundCreateParams) (*stripe.Refund, error) {
	req := params.toStripe()
	req.SetIdempotencyKey(params.IdempotencyKey)
	c.log(ctx, "request", "create_refund", map[string]any{
		"payment_intent":         params.PaymentIntentID,
		"amount":                 params.AmountCents,
		"reverse_transfer":       params.ReverseTransfer,
		"refund_application_fee": params.RefundApplicationFee,
	})

	var refund *stripe.Refund
	err := c.call(context.WithoutCancel(ctx), "create_refund", func(ctx context.Context) error {
		req.Context = ctx
		var err error
		refund, err = c.api.Refunds.New(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_refund", map[string]any{"refund_id": refund.ID, "status": string(refund.Status)})
	return refund, nil
}
