package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/enums"
)

// WebhookEvent is the idempotency ledger row for one inbound provider event.
// EventID carries the provider-assigned identifier and is unique, so
// concurrent deliveries of the same event race on the insert and exactly one
// wins.
type WebhookEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       string                    `gorm:"column:event_id;not null;uniqueIndex"`
	EventType     string                    `gorm:"column:event_type;not null"`
	OrderID       *uuid.UUID                `gorm:"column:order_id;type:uuid"`
	PayloadDigest string                    `gorm:"column:payload_digest;not null"`
	Outcome       enums.WebhookEventOutcome `gorm:"column:outcome;type:text;not null;default:'processing'"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:1"`
	FirstSeenAt   time.Time                 `gorm:"column:first_seen_at;autoCreateTime"`
	LastAttemptAt time.Time                 `gorm:"column:last_attempt_at;not null"`
}
