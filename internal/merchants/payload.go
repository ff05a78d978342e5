package merchants

import (
	"strings"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

// buildAccountParams pre-fills a connected account from the agency profile.
// Absent profile fields stay absent.
func buildAccountParams(input ProvisionInput, profile *models.MerchantProfile) pkgstripe.AccountCreateParams {
	params := pkgstripe.AccountCreateParams{
		MerchantID:   input.MerchantID.String(),
		Country:      input.Country,
		BusinessType: input.BusinessType,
	}
	if profile == nil {
		return params
	}

	params.Email = present(profile.ContactEmail)
	params.Phone = present(profile.ContactPhone)
	params.WebsiteURL = present(profile.WebsiteURL)
	params.ProductDescription = present(profile.ProductDescription)
	params.MCC = present(profile.MCC)
	params.LegalName = present(profile.LegalName)
	if name := strings.TrimSpace(profile.BusinessName); name != "" {
		params.BusinessName = &name
	}

	address := pkgstripe.Address{
		Line1:      present(profile.AddressLine1),
		Line2:      present(profile.AddressLine2),
		City:       present(profile.AddressCity),
		State:      present(profile.AddressState),
		PostalCode: present(profile.AddressPostalCode),
		Country:    present(profile.AddressCountry),
	}
	if address != (pkgstripe.Address{}) {
		params.Address = &address
	}

	if profile.RepresentativeFirstName != nil || profile.RepresentativeLastName != nil || profile.RepresentativeDOB != nil {
		params.Representative = &pkgstripe.Representative{
			FirstName: present(profile.RepresentativeFirstName),
			LastName:  present(profile.RepresentativeLastName),
			Email:     params.Email,
			Phone:     params.Phone,
			DOB:       profile.RepresentativeDOB,
		}
	}
	return params
}

func present(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
