package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
)

// Repository manages persistence for the webhook event ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.WebhookEvent) error
	FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	Claim(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error)
	SetOutcome(ctx context.Context, id uuid.UUID, outcome enums.WebhookEventOutcome) error
	SetOrderID(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert writes the row without swallowing driver errors so callers can
// detect the unique violation that settles the admit race.
func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Claim bumps the attempt counter on a stale processing row. The attempt
// count precondition makes concurrent claimers race; exactly one wins.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, seenAttempts int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND outcome = ? AND attempt_count = ?", id, enums.WebhookEventProcessing, seenAttempts).
		Updates(map[string]any{
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetOutcome moves a processing row to its terminal outcome. Rows already
// settled are left alone.
func (r *repository) SetOutcome(ctx context.Context, id uuid.UUID, outcome enums.WebhookEventOutcome) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ? AND outcome = ?", id, enums.WebhookEventProcessing).
		Updates(map[string]any{
			"outcome":         outcome,
			"last_attempt_at": time.Now().UTC(),
		}).Error
}

func (r *repository) SetOrderID(ctx context.Context, id uuid.UUID, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("order_id", orderID).Error
}

func (r *repository) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("outcome = ? AND last_attempt_at < ?", enums.WebhookEventProcessing, olderThan).
		Order("last_attempt_at ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
