package merchants

import (
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
	dbtypes "github.com/tripnest/tripnest-backend/pkg/db/types"
	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// DeriveStatus maps a processor account onto the local status: restricted
// when disabled or past due, active when it can take charges, else pending.
func DeriveStatus(acct *stripe.Account) enums.MerchantAccountStatus {
	if acct == nil {
		return enums.MerchantAccountPending
	}
	if req := acct.Requirements; req != nil {
		if req.DisabledReason != "" || len(req.PastDue) > 0 {
			return enums.MerchantAccountRestricted
		}
	}
	if acct.ChargesEnabled {
		return enums.MerchantAccountActive
	}
	return enums.MerchantAccountPending
}

// ApplyProcessorAccount copies the processor snapshot onto account, creating
// it when nil. Review flags are left untouched.
func ApplyProcessorAccount(account *models.MerchantAccount, merchantID uuid.UUID, acct *stripe.Account, now time.Time) *models.MerchantAccount {
	if account == nil {
		account = &models.MerchantAccount{MerchantID: merchantID}
	}
	account.ProcessorAccountID = acct.ID
	account.Status = DeriveStatus(acct)
	account.ChargesEnabled = acct.ChargesEnabled
	account.PayoutsEnabled = acct.PayoutsEnabled
	if acct.Country != "" {
		account.Country = acct.Country
	}
	if acct.BusinessType != "" {
		account.BusinessType = string(acct.BusinessType)
	}

	account.RequirementsCurrentlyDue = dbtypes.StringArray{}
	account.RequirementsPastDue = dbtypes.StringArray{}
	account.RequirementsEventuallyDue = dbtypes.StringArray{}
	account.DisabledReason = nil
	if req := acct.Requirements; req != nil {
		account.RequirementsCurrentlyDue = append(dbtypes.StringArray{}, req.CurrentlyDue...)
		account.RequirementsPastDue = append(dbtypes.StringArray{}, req.PastDue...)
		account.RequirementsEventuallyDue = append(dbtypes.StringArray{}, req.EventuallyDue...)
		if req.DisabledReason != "" {
			reason := string(req.DisabledReason)
			account.DisabledReason = &reason
		}
	}
	account.LastSyncAt = now.UTC()
	return account
}
