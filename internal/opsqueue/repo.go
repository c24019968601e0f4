package opsqueue

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
)

// Repository manages the append-only operator task queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, task *models.OperatorTask) error
	List(ctx context.Context, limit, offset int) ([]models.OperatorTask, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OperatorTask, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an operator task repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, task *models.OperatorTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]models.OperatorTask, error) {
	var tasks []models.OperatorTask
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OperatorTask, error) {
	var tasks []models.OperatorTask
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
