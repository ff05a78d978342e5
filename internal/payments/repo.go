package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
	"github.com/tripnest/tripnest-backend/pkg/enums"
)

// Repository persists payment records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PaymentRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentRecord, error)
	FindByPaymentRef(ctx context.Context, ref string) (*models.PaymentRecord, error)
	MarkCompleted(ctx context.Context, sessionID, paymentIntentID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment record repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentRecord, error) {
	return r.first(ctx, "session_id = ?", sessionID)
}

// FindByPaymentRef resolves a payment intent id, falling back to a
// checkout session id.
func (r *repository) FindByPaymentRef(ctx context.Context, ref string) (*models.PaymentRecord, error) {
	record, err := r.first(ctx, "payment_intent_id = ?", ref)
	if err != nil || record != nil {
		return record, err
	}
	return r.first(ctx, "session_id = ?", ref)
}

// MarkCompleted moves an open record to completed. It reports false when the
// record was already terminal or does not exist.
func (r *repository) MarkCompleted(ctx context.Context, sessionID, paymentIntentID string, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":       enums.PaymentStatusCompleted,
		"completed_at": at.UTC(),
		"updated_at":   time.Now().UTC(),
	}
	if paymentIntentID != "" {
		updates["payment_intent_id"] = paymentIntentID
	}
	return r.transition(ctx, sessionID, updates)
}

// MarkFailed moves an open record to failed.
func (r *repository) MarkFailed(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	return r.transition(ctx, sessionID, map[string]any{
		"status":     enums.PaymentStatusFailed,
		"failed_at":  at.UTC(),
		"updated_at": time.Now().UTC(),
	})
}

func (r *repository) transition(ctx context.Context, sessionID string, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("session_id = ? AND status = ?", sessionID, enums.PaymentStatusOpen).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Where(query, args...).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
