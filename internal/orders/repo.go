package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

// Repository manages persistence for fulfillment orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByStripeSessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindByStripePaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	FindByTrackingID(ctx context.Context, trackingID string) (*models.Order, error)
	ListStuckInPipeline(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
	UpdateIfStatus(ctx context.Context, id uuid.UUID, expected enums.OrderStatus, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByStripeSessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", sessionID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByStripePaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByTrackingID(ctx context.Context, trackingID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("tracking_id = ?", trackingID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ListStuckInPipeline returns orders parked in an intermediate state that
// have not moved since the cutoff, oldest first.
func (r *repository) ListStuckInPipeline(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error) {
	var stuck []models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.OrderStatus{
			enums.OrderStatusPaymentReceived,
			enums.OrderStatusDocumentReady,
			enums.OrderStatusAddressVerified,
		}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&stuck).Error
	if err != nil {
		return nil, err
	}
	return stuck, nil
}

// UpdateIfStatus applies the updates only while the row still sits in the
// expected state. A zero-row result means a concurrent writer moved the
// order first.
func (r *repository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected enums.OrderStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order no longer in state "+string(expected))
	}
	return nil
}
