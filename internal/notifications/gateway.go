package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/enums"
	pkgerrors "github.com/tripnest/tripnest-backend/pkg/errors"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/outbox"
	"github.com/tripnest/tripnest-backend/pkg/outbox/payloads"
)

const source = "settlement"

// Emitter stores domain events in the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Message is one templated notification to a single recipient.
type Message struct {
	Kind          enums.NotificationKind
	Recipient     string
	MerchantID    uuid.UUID
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Subject       string
	Data          map[string]any
}

// Escalation hands an incident to the operations queue.
type Escalation struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Payload       any
}

// Gateway delivers merchant and support notifications. Delivery happens
// after tx commits, so a rolled back handler sends nothing.
type Gateway interface {
	Notify(ctx context.Context, tx *gorm.DB, msg Message) error
	Escalate(ctx context.Context, tx *gorm.DB, esc Escalation) error
	SupportRecipient() string
}

type outboxGateway struct {
	emitter Emitter
	logg    *logger.Logger
	support string
}

// NewGateway returns a Gateway that enqueues through the transactional outbox.
func NewGateway(emitter Emitter, logg *logger.Logger, supportEmail string) (Gateway, error) {
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	supportEmail = strings.TrimSpace(supportEmail)
	if supportEmail == "" {
		return nil, errors.New("support email required")
	}
	return &outboxGateway{emitter: emitter, logg: logg, support: supportEmail}, nil
}

func (g *outboxGateway) SupportRecipient() string {
	return g.support
}

func (g *outboxGateway) Notify(ctx context.Context, tx *gorm.DB, msg Message) error {
	msg.Recipient = strings.TrimSpace(msg.Recipient)
	if !msg.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown notification kind")
	}
	if msg.Recipient == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification recipient required")
	}
	if err := g.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		Source:        source,
		Data: payloads.NotificationRequestedEvent{
			Kind:       msg.Kind,
			Recipient:  msg.Recipient,
			MerchantID: msg.MerchantID,
			Subject:    msg.Subject,
			Data:       msg.Data,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue notification")
	}
	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"notification_kind": msg.Kind,
		"merchant_id":       msg.MerchantID.String(),
	}), "notification enqueued")
	return nil
}

func (g *outboxGateway) Escalate(ctx context.Context, tx *gorm.DB, esc Escalation) error {
	switch esc.EventType {
	case enums.EventMerchantReviewEscalated, enums.EventRefundExceptionEscalated:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported escalation type "+string(esc.EventType))
	}
	if err := g.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     esc.EventType,
		AggregateType: esc.AggregateType,
		AggregateID:   esc.AggregateID,
		Source:        source,
		Data:          esc.Payload,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueue escalation")
	}
	g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
		"escalation":   esc.EventType,
		"aggregate_id": esc.AggregateID.String(),
	}), "escalation enqueued")
	return nil
}
