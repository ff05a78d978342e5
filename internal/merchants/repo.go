package merchants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
)

// Repository persists merchant settlement accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error)
	FindByProcessorAccountID(ctx context.Context, processorAccountID string) (*models.MerchantAccount, error)
	Upsert(ctx context.Context, account *models.MerchantAccount) (*models.MerchantAccount, error)
	ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]models.MerchantAccount, error)
	MarkRequiresReview(ctx context.Context, id uuid.UUID, reason string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a merchant account repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByProcessorAccountID(ctx context.Context, processorAccountID string) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.WithContext(ctx).
		Where("processor_account_id = ?", processorAccountID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// Upsert writes the account keyed by processor_account_id and returns the
// stored row. A different account for the same merchant fails on the
// merchant_id unique constraint.
func (r *repository) Upsert(ctx context.Context, account *models.MerchantAccount) (*models.MerchantAccount, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "processor_account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"charges_enabled",
			"payouts_enabled",
			"requirements_currently_due",
			"requirements_past_due",
			"requirements_eventually_due",
			"disabled_reason",
			"country",
			"business_type",
			"last_sync_at",
			"updated_at",
		}),
	}).Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.FindByProcessorAccountID(ctx, account.ProcessorAccountID)
}

// ListStale returns accounts whose last sync precedes syncedBefore, oldest first.
func (r *repository) ListStale(ctx context.Context, syncedBefore time.Time, limit int) ([]models.MerchantAccount, error) {
	if limit <= 0 {
		limit = 100
	}
	var accounts []models.MerchantAccount
	if err := r.db.WithContext(ctx).
		Where("last_sync_at < ?", syncedBefore.UTC()).
		Order("last_sync_at ASC").
		Limit(limit).
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) MarkRequiresReview(ctx context.Context, id uuid.UUID, reason string) error {
	res := r.db.WithContext(ctx).
		Model(&models.MerchantAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"requires_review": true,
			"review_reason":   reason,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ProfileRepository reads the booking-side agency profile.
type ProfileRepository interface {
	WithTx(tx *gorm.DB) ProfileRepository
	FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantProfile, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository returns a read-only merchant profile repository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) WithTx(tx *gorm.DB) ProfileRepository {
	if tx == nil {
		return r
	}
	return &profileRepository{db: tx}
}

func (r *profileRepository) FindByMerchantID(ctx context.Context, merchantID uuid.UUID) (*models.MerchantProfile, error) {
	var profile models.MerchantProfile
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}
