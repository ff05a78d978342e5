package stripe

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// MerchantMetadataKey tags connected accounts with the owning merchant.
const MerchantMetadataKey = "merchant_id"

// Address is a postal address; nil fields are omitted from requests.
type Address struct {
	Line1      *string
	Line2      *string
	City       *string
	State      *string
	PostalCode *string
	Country    *string
}

// Representative is the individual behind an individual-type account.
type Representative struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	DOB       *time.Time
}

// AccountCreateParams describes a new Express connected account. Only the
// fields that are set are sent.
type AccountCreateParams struct {
	MerchantID         string
	Country            string
	BusinessType       string
	Email              *string
	BusinessName       *string
	LegalName          *string
	Phone              *string
	WebsiteURL         *string
	ProductDescription *string
	MCC                *string
	Address            *Address
	Representative     *Representative
	IdempotencyKey     string
}

// FieldNames lists the payload fields present, for diagnostics.
func (p AccountCreateParams) FieldNames() []string {
	fields := []string{"type", "country", "business_type", "capabilities", "metadata"}
	optional := map[string]bool{
		"email":                                p.Email != nil,
		"business_profile.name":                p.BusinessName != nil,
		"business_profile.url":                 p.WebsiteURL != nil,
		"business_profile.mcc":                 p.MCC != nil,
		"business_profile.product_description": p.ProductDescription != nil,
		"company.name":                         p.LegalName != nil && p.BusinessType == string(stripe.AccountBusinessTypeCompany),
		"phone":                                p.Phone != nil,
		"address":                              p.Address != nil,
		"individual":                           p.Representative != nil && p.BusinessType == string(stripe.AccountBusinessTypeIndividual),
	}
	for name, present := range optional {
		if present {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

func (p AccountCreateParams) toStripe() *stripe.AccountParams {
	params := &stripe.AccountParams{
		Type:         stripe.String(string(stripe.AccountTypeExpress)),
		Country:      stripe.String(strings.ToUpper(p.Country)),
		BusinessType: stripe.String(p.BusinessType),
		Email:        p.Email,
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata(MerchantMetadataKey, p.MerchantID)

	if p.BusinessName != nil || p.WebsiteURL != nil || p.MCC != nil || p.ProductDescription != nil {
		params.BusinessProfile = &stripe.AccountBusinessProfileParams{
			Name:               p.BusinessName,
			URL:                p.WebsiteURL,
			MCC:                p.MCC,
			ProductDescription: p.ProductDescription,
			SupportEmail:       p.Email,
			SupportPhone:       p.Phone,
		}
	}

	switch p.BusinessType {
	case string(stripe.AccountBusinessTypeCompany):
		if p.LegalName != nil || p.Phone != nil || p.Address != nil {
			params.Company = &stripe.AccountCompanyParams{
				Name:    p.LegalName,
				Phone:   p.Phone,
				Address: p.Address.toStripe(),
			}
		}
	case string(stripe.AccountBusinessTypeIndividual):
		if p.Representative != nil || p.Address != nil {
			individual := &stripe.PersonParams{Address: p.Address.toStripe()}
			if rep := p.Representative; rep != nil {
				individual.FirstName = rep.FirstName
				individual.LastName = rep.LastName
				individual.Email = rep.Email
				individual.Phone = rep.Phone
				if rep.DOB != nil {
					individual.DOB = &stripe.PersonDOBParams{
						Day:   stripe.Int64(int64(rep.DOB.Day())),
						Month: stripe.Int64(int64(rep.DOB.Month())),
						Year:  stripe.Int64(int64(rep.DOB.Year())),
					}
				}
			}
			params.Individual = individual
		}
	}
	return params
}

func (a *Address) toStripe() *stripe.AddressParams {
	if a == nil {
		return nil
	}
	return &stripe.AddressParams{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// CreateAccount creates an Express connected account.
func (c *Client) CreateAccount(ctx context.Context, params AccountCreateParams) (*stripe.Account, error) {
	req := params.toStripe()
	req.SetIdempotencyKey(params.IdempotencyKey)
	c.log(ctx, "request", "create_account", map[string]any{
		"merchant_id":   params.MerchantID,
		"country":       params.Country,
		"business_type": params.BusinessType,
		"fields":        params.FieldNames(),
	})

	var acct *stripe.Account
	err := c.call(context.WithoutCancel(ctx), "create_account", func(ctx context.Context) error {
		req.Context = ctx
		var err error
		acct, err = c.api.Accounts.New(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_account", map[string]any{"account_id": acct.ID, "charges_enabled": acct.ChargesEnabled})
	return acct, nil
}

// GetAccount retrieves the live state of a connected account.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*stripe.Account, error) {
	var acct *stripe.Account
	err := c.call(ctx, "get_account", func(ctx context.Context) error {
		params := &stripe.AccountParams{}
		params.Context = ctx
		var err error
		acct, err = c.api.Accounts.GetByID(accountID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// FindAccountByMerchant scans connected accounts for one tagged with
// merchantID. It returns nil when none matches within maxPages pages.
func (c *Client) FindAccountByMerchant(ctx context.Context, merchantID string, maxPages int) (*stripe.Account, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	const pageSize = 100

	var found *stripe.Account
	err := c.call(ctx, "search_accounts", func(ctx context.Context) error {
		found = nil
		params := &stripe.AccountListParams{}
		params.Context = ctx
		params.Limit = stripe.Int64(pageSize)
		iter := c.api.Accounts.List(params)
		seen := 0
		for iter.Next() {
			acct := iter.Account()
			if acct.Metadata[MerchantMetadataKey] == merchantID {
				found = acct
				return nil
			}
			seen++
			if seen >= maxPages*pageSize {
				break
			}
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CreateAccountLink returns a hosted onboarding URL for the account.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*stripe.AccountLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	var link *stripe.AccountLink
	err := c.call(ctx, "create_account_link", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		link, err = c.api.AccountLinks.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}
