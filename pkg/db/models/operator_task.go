package models

import (
	"time"

	"github.com/google/uuid"
)

// OperatorTask is an append-only manual-review entry for orders that cannot
// auto-progress.
type OperatorTask struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null" json:"order_id"`
	Reason    string    `gorm:"column:reason;not null" json:"reason"`
	Detail    *string   `gorm:"column:detail" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
