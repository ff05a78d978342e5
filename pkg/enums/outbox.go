package enums

import "fmt"

// OutboxAggregateType names the record an outbox event is about.
type OutboxAggregateType string

const (
	AggregateMerchantAccount OutboxAggregateType = "merchant_account"
	AggregatePaymentRecord   OutboxAggregateType = "payment_record"
	AggregateRefundRecord    OutboxAggregateType = "refund_record"
	AggregatePayoutFailure   OutboxAggregateType = "payout_failure"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateMerchantAccount,
	AggregatePaymentRecord,
	AggregateRefundRecord,
	AggregatePayoutFailure,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key used by the outbox publisher.
type OutboxEventType string

const (
	EventNotificationRequested    OutboxEventType = "notification_requested"
	EventMerchantReviewEscalated  OutboxEventType = "merchant_review_escalated"
	EventRefundExceptionEscalated OutboxEventType = "refund_exception_escalated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventNotificationRequested,
	EventMerchantReviewEscalated,
	EventRefundExceptionEscalated,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
