package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v76"
)

// GetAccountBalance reads the balance of a connected account.
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (*stripe.Balance, error) {
	var balance *stripe.Balance
	err := c.call(ctx, "get_balance", func(ctx context.Context) error {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		params.SetStripeAccount(accountID)
		var err error
		balance, err = c.api.Balance.Get(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "get_balance", map[string]any{"account_id": accountID})
	return balance, nil
}

// SpendableAmount sums available and pending funds in currency.
func SpendableAmount(balance *stripe.Balance, currency string) int64 {
	if balance == nil {
		return 0
	}
	currency = strings.ToLower(currency)
	var total int64
	for _, group := range [][]*stripe.Amount{balance.Available, balance.Pending} {
		for _, amount := range group {
			if amount != nil && strings.EqualFold(string(amount.Currency), currency) {
				total += amount.Amount
			}
		}
	}
	return total
}
