package registry

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
	"github.com/tripnest/tripnest-backend/pkg/outbox"
	"github.com/tripnest/tripnest-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveNotification(t *testing.T) {
	reg := newTestEventRegistry(t)

	merchantID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregatePayoutFailure,
		AggregateID:   uuid.New(),
		Payload: mustEnvelope(t, mustMarshal(t, payloads.NotificationRequestedEvent{
			Kind:       enums.NotificationPayoutFailedMerchant,
			Recipient:  "ops@agency.test",
			MerchantID: merchantID,
			Subject:    "Payout failed",
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "notifications-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.NotificationRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.MerchantID != merchantID || payload.Recipient != "ops@agency.test" {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing identity fields")
	}
}

func TestEventRegistryRoutesEscalations(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventRefundExceptionEscalated,
		AggregateType: enums.AggregatePaymentRecord,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, mustMarshal(t, payloads.RefundExceptionEscalatedEvent{Reason: "fallback failed"})),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "escalations-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}

	topics := reg.Topics()
	sort.Strings(topics)
	if len(topics) != 2 || topics[0] != "escalations-topic" || topics[1] != "notifications-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := mustEnvelope(t, []byte(`{"merchant_id":"`+uuid.NewString()+`"}`))

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("booking_created"),
			AggregateType: enums.AggregatePaymentRecord,
			AggregateID:   uuid.New(),
			Payload:       valid,
		},
		"aggregate mismatch": {
			EventType:     enums.EventMerchantReviewEscalated,
			AggregateType: enums.AggregateRefundRecord,
			AggregateID:   uuid.New(),
			Payload:       valid,
		},
		"missing aggregate": {
			EventType:     enums.EventMerchantReviewEscalated,
			AggregateType: enums.AggregatePayoutFailure,
			Payload:       valid,
		},
		"bad envelope": {
			EventType:     enums.EventMerchantReviewEscalated,
			AggregateType: enums.AggregatePayoutFailure,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`not-json`),
		},
		"null data": {
			EventType:     enums.EventMerchantReviewEscalated,
			AggregateType: enums.AggregatePayoutFailure,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "n"}); err == nil {
		t.Fatalf("expected error without escalation topic")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{EscalationTopic: "e"}); err == nil {
		t.Fatalf("expected error without notification topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		NotificationTopic: "notifications-topic",
		EscalationTopic:   "escalations-topic",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mustEnvelope(t *testing.T, data []byte) json.RawMessage {
	t.Helper()
	return json.RawMessage(mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}))
}
