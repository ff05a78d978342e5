package refunds

import (
	"context"

	"gorm.io/gorm"

	"github.com/tripnest/tripnest-backend/pkg/db/models"
)

// Repository persists refund records. It is an audit trail of what this
// service issued, not a ledger of what remains refundable.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.RefundRecord) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refund repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.RefundRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}
