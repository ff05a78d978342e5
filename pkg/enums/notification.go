package enums

import "fmt"

// NotificationKind identifies the message template rendered downstream.
type NotificationKind string

const (
	NotificationPayoutFailedMerchant NotificationKind = "payout_failed_merchant"
	NotificationPayoutFailedSupport  NotificationKind = "payout_failed_support"
	NotificationRefundException      NotificationKind = "refund_exception"
)

var validNotificationKinds = []NotificationKind{
	NotificationPayoutFailedMerchant,
	NotificationPayoutFailedSupport,
	NotificationRefundException,
}

// IsValid checks whether the given kind is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
