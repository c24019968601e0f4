package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/enums"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

// Order is one paid appeal awaiting physical-mail fulfillment. The dispatch
// side-effect record (verified address snapshot, document checksum, tracking
// id, attempt count, last error) lives on the row rather than a child table;
// there is at most one dispatch per order.
type Order struct {
	ID                    uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IntakeID              uuid.UUID         `gorm:"column:intake_id;type:uuid;not null"`
	DraftID               uuid.UUID         `gorm:"column:draft_id;type:uuid;not null"`
	StripeSessionID       string            `gorm:"column:stripe_session_id;not null;uniqueIndex"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id;index"`
	CustomerEmail         string            `gorm:"column:customer_email;not null"`
	AmountCents           int               `gorm:"column:amount_cents;not null"`
	Currency              enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status                enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'"`
	RawAddress            types.Address     `gorm:"column:raw_address;type:jsonb;serializer:json"`
	VerifiedAddress       *types.Address    `gorm:"column:verified_address;type:jsonb;serializer:json"`

	DocumentRef      *string `gorm:"column:document_ref"`
	DocumentChecksum *string `gorm:"column:document_checksum"`
	TrackingID       *string `gorm:"column:tracking_id"`
	DispatchAttempts int     `gorm:"column:dispatch_attempts;not null;default:0"`
	NotifyAttempts   int     `gorm:"column:notify_attempts;not null;default:0"`
	LastError        *string `gorm:"column:last_error"`

	PaymentReceivedAt *time.Time `gorm:"column:payment_received_at"`
	DocumentReadyAt   *time.Time `gorm:"column:document_ready_at"`
	AddressVerifiedAt *time.Time `gorm:"column:address_verified_at"`
	DispatchedAt      *time.Time `gorm:"column:dispatched_at"`
	FulfilledAt       *time.Time `gorm:"column:fulfilled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
