package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/tripnest/tripnest-backend/pkg/redis"
)

const (
	deliveryScope   = "stripe_webhook"
	defaultClaimTTL = 72 * time.Hour
)

// DeliveryGuard claims webhook deliveries in Redis ahead of the processed
// event table, which stays authoritative. Claims are keyed by event type and
// id, and hold the event's creation time.
type DeliveryGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewDeliveryGuard returns a guard whose claims expire after ttl, or after
// 72h when ttl is zero.
func NewDeliveryGuard(store redis.IdempotencyStore, ttl time.Duration) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("claim store is required")
	}
	switch {
	case ttl < 0:
		return nil, errors.New("claim ttl must be non-negative")
	case ttl == 0:
		ttl = defaultClaimTTL
	}
	return &DeliveryGuard{store: store, ttl: ttl}, nil
}

// Claim reports whether this call is the first to see the event. A false
// result with a nil error means the delivery is a duplicate.
func (g *DeliveryGuard) Claim(ctx context.Context, event *stripe.Event) (bool, error) {
	key, err := g.claimKey(event)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, strconv.FormatInt(event.Created, 10), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", event.ID, err)
	}
	return claimed, nil
}

// Release drops a claim so the next redelivery of the event is applied.
func (g *DeliveryGuard) Release(ctx context.Context, event *stripe.Event) error {
	key, err := g.claimKey(event)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *DeliveryGuard) claimKey(event *stripe.Event) (string, error) {
	if event == nil || event.ID == "" {
		return "", errors.New("event id is required")
	}
	if event.Type == "" {
		return "", errors.New("event type is required")
	}
	return g.store.IdempotencyKey(deliveryScope+":"+string(event.Type), event.ID), nil
}
