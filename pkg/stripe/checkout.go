package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v76"
)

const (
	UIModeHosted   = string(stripe.CheckoutSessionUIModeHosted)
	UIModeEmbedded = string(stripe.CheckoutSessionUIModeEmbedded)
)

// LineItem is a single priced row on the checkout page.
type LineItem struct {
	Name        string
	Description string
	AmountCents int64
}

// CheckoutSessionParams describes a destination charge: the full amount is
// charged on the platform and everything above ApplicationFeeCents is
// transferred to DestinationAccountID.
type CheckoutSessionParams struct {
	BookingID            string
	MerchantID           string
	PaymentRecordID      string
	DestinationAccountID string
	Currency             string
	CustomerEmail        string
	LineItems            []LineItem
	ApplicationFeeCents  int64
	UIMode               string
	SuccessURL           string
	CancelURL            string
	ReturnURL            string
	IdempotencyKey       string
}

func (p CheckoutSessionParams) toStripe() *stripe.CheckoutSessionParams {
	currency := strings.ToLower(p.Currency)
	metadata := map[string]string{
		"booking_id":        p.BookingID,
		"merchant_id":       p.MerchantID,
		"payment_record_id": p.PaymentRecordID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.BookingID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(p.ApplicationFeeCents),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(p.DestinationAccountID),
			},
			TransferGroup: stripe.String("booking_" + p.BookingID),
			Metadata:      metadata,
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	for _, item := range p.LineItems {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			productData.Description = stripe.String(item.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.AmountCents),
				ProductData: productData,
			},
		})
	}

	if p.UIMode == UIModeEmbedded {
		params.UIMode = stripe.String(UIModeEmbedded)
		params.ReturnURL = stripe.String(p.ReturnURL)
	} else {
		params.SuccessURL = stripe.String(p.SuccessURL)
		params.CancelURL = stripe.String(p.CancelURL)
	}
	return params
}

// CreateCheckoutSession opens a Checkout Session for a destination charge.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	req := params.toStripe()
	req.SetIdempotencyKey(params.IdempotencyKey)
	c.log(ctx, "request", "create_checkout_session", map[string]any{
		"booking_id":      params.BookingID,
		"merchant_id":     params.MerchantID,
		"destination":     params.DestinationAccountID,
		"application_fee": params.ApplicationFeeCents,
		"currency":        params.Currency,
		"customer_email":  params.CustomerEmail,
		"line_items":      len(params.LineItems),
	})

	var session *stripe.CheckoutSession
	err := c.call(context.WithoutCancel(ctx), "create_checkout_session", func(ctx context.Context) error {
		req.Context = ctx
		var err error
		session, err = c.api.CheckoutSessions.New(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_checkout_session", map[string]any{"session_id": session.ID})
	return session, nil
}
