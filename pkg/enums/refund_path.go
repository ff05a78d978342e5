package enums

import "fmt"

// RefundPath records which refund mode actually executed.
type RefundPath string

const (
	RefundPathReversed RefundPath = "reversed"
	RefundPathFallback RefundPath = "fallback"
	RefundPathDirect   RefundPath = "direct"
)

var validRefundPaths = []RefundPath{
	RefundPathReversed,
	RefundPathFallback,
	RefundPathDirect,
}

// String implements fmt.Stringer.
func (r RefundPath) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundPath.
func (r RefundPath) IsValid() bool {
	for _, candidate := range validRefundPaths {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundPath converts raw input into a RefundPath.
func ParseRefundPath(value string) (RefundPath, error) {
	for _, candidate := range validRefundPaths {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund path %q", value)
}
