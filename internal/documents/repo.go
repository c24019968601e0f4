package documents

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
)

// Repository manages persistence for appeal drafts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, draft *models.Draft) error
	CreateWithTx(ctx context.Context, tx *gorm.DB, draft *models.Draft) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Draft, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a draft repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, draft *models.Draft) error {
	return r.db.WithContext(ctx).Create(draft).Error
}

func (r *repository) CreateWithTx(ctx context.Context, tx *gorm.DB, draft *models.Draft) error {
	if tx == nil {
		return r.Create(ctx, draft)
	}
	return tx.WithContext(ctx).Create(draft).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	var draft models.Draft
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&draft).Error; err != nil {
		return nil, err
	}
	return &draft, nil
}
