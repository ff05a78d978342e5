package stripewebhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
)

// EventStore records processed events and payout failures. Every method
// runs on the caller's transaction.
type EventStore interface {
	MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, eventType string, at time.Time) (bool, error)
	InsertPayoutFailure(ctx context.Context, tx *gorm.DB, event *models.PayoutFailureEvent) (bool, error)
}

type eventStore struct{}

// NewEventStore returns the gorm backed EventStore.
func NewEventStore() EventStore {
	return eventStore{}
}

// MarkProcessed claims eventID. It reports false when the event was
// already claimed by an earlier delivery.
func (eventStore) MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, eventType string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ProcessedWebhookEvent{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// InsertPayoutFailure stores the failure once per payout. It reports false
// when the payout was already recorded.
func (eventStore) InsertPayoutFailure(ctx context.Context, tx *gorm.DB, event *models.PayoutFailureEvent) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
