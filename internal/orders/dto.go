package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

// OrderResponse is the public view of an order's fulfillment progress.
type OrderResponse struct {
	ID              uuid.UUID      `json:"id"`
	IntakeID        uuid.UUID      `json:"intake_id"`
	Status          string         `json:"status"`
	AmountCents     int            `json:"amount_cents"`
	Currency        string         `json:"currency"`
	RecipientName   string         `json:"recipient_name,omitempty"`
	VerifiedAddress *types.Address `json:"verified_address,omitempty"`
	TrackingID      *string        `json:"tracking_id,omitempty"`

	PaymentReceivedAt *time.Time `json:"payment_received_at,omitempty"`
	DispatchedAt      *time.Time `json:"dispatched_at,omitempty"`
	FulfilledAt       *time.Time `json:"fulfilled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// StatusResponse is the polling view of an order: state and tracking only.
type StatusResponse struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	TrackingID *string   `json:"tracking_id,omitempty"`
}

// ToStatusResponse maps an order row to its polling representation.
func ToStatusResponse(order *models.Order) StatusResponse {
	if order == nil {
		return StatusResponse{}
	}
	return StatusResponse{
		ID:         order.ID,
		Status:     order.Status.String(),
		TrackingID: order.TrackingID,
	}
}

// ToResponse maps an order row to its public representation.
func ToResponse(order *models.Order) OrderResponse {
	if order == nil {
		return OrderResponse{}
	}
	return OrderResponse{
		ID:                order.ID,
		IntakeID:          order.IntakeID,
		Status:            order.Status.String(),
		AmountCents:       order.AmountCents,
		Currency:          string(order.Currency),
		RecipientName:     order.RawAddress.Name,
		VerifiedAddress:   order.VerifiedAddress,
		TrackingID:        order.TrackingID,
		PaymentReceivedAt: order.PaymentReceivedAt,
		DispatchedAt:      order.DispatchedAt,
		FulfilledAt:       order.FulfilledAt,
		CreatedAt:         order.CreatedAt,
	}
}
