package enums

import (
	"fmt"
	"strings"
)

// FeePolicyKind selects how the platform fee is derived from the base amount.
type FeePolicyKind string

const (
	FeePolicyFixed      FeePolicyKind = "fixed"
	FeePolicyPercentage FeePolicyKind = "percentage"
	FeePolicyNone       FeePolicyKind = "none"
)

var validFeePolicyKinds = []FeePolicyKind{
	FeePolicyFixed,
	FeePolicyPercentage,
	FeePolicyNone,
}

func (k FeePolicyKind) String() string {
	return string(k)
}

func (k FeePolicyKind) IsValid() bool {
	for _, candidate := range validFeePolicyKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseFeePolicyKind is case-insensitive.
func ParseFeePolicyKind(value string) (FeePolicyKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validFeePolicyKinds {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee policy kind %q", value)
}
