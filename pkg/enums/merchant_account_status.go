package enums

import "fmt"

// MerchantAccountStatus is the locally derived state of a connected account.
type MerchantAccountStatus string

const (
	MerchantAccountPending    MerchantAccountStatus = "pending"
	MerchantAccountActive     MerchantAccountStatus = "active"
	MerchantAccountRestricted MerchantAccountStatus = "restricted"
)

var validMerchantAccountStatuses = []MerchantAccountStatus{
	MerchantAccountPending,
	MerchantAccountActive,
	MerchantAccountRestricted,
}

func (s MerchantAccountStatus) String() string {
	return string(s)
}

func (s MerchantAccountStatus) IsValid() bool {
	for _, candidate := range validMerchantAccountStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseMerchantAccountStatus(value string) (MerchantAccountStatus, error) {
	for _, candidate := range validMerchantAccountStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid merchant account status %q", value)
}
