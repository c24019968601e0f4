package lobwebhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/appealpost/appealpost-backend/internal/fulfillment"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

const eventTypeLetterDelivered = "letter.delivered"

type deliveryOrchestrator interface {
	HandleDeliveryConfirmed(ctx context.Context, input fulfillment.DeliveryConfirmed) error
}

type eventObserver interface {
	IncWebhookEvent(provider, outcome string)
}

// Event is the envelope Lob posts to webhook endpoints.
type Event struct {
	ID        string `json:"id"`
	EventType struct {
		ID string `json:"id"`
	} `json:"event_type"`
	Body struct {
		ID             string `json:"id"`
		TrackingNumber string `json:"tracking_number"`
	} `json:"body"`
}

// Service translates Lob tracking events into fulfillment commands.
type Service struct {
	orchestrator deliveryOrchestrator
	observer     eventObserver
}

// NewService builds the Lob webhook service. The observer may be nil.
func NewService(orchestrator deliveryOrchestrator, observer eventObserver) (*Service, error) {
	if orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment orchestrator required")
	}
	return &Service{orchestrator: orchestrator, observer: observer}, nil
}

// HandleEvent parses the raw (already signature-verified) payload and routes
// letter delivery confirmations. Other tracking events are acknowledged and
// dropped.
func (s *Service) HandleEvent(ctx context.Context, payload []byte) error {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.observe("rejected")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode lob event")
	}
	if event.ID == "" {
		s.observe("rejected")
		return pkgerrors.New(pkgerrors.CodeValidation, "lob event id missing")
	}

	if event.EventType.ID != eventTypeLetterDelivered {
		s.observe("ignored")
		return nil
	}

	trackingID := event.Body.TrackingNumber
	if trackingID == "" {
		// Letters without a tracking number are keyed by the provider letter
		// id, mirroring dispatch.
		trackingID = event.Body.ID
	}
	if trackingID == "" {
		s.observe("rejected")
		return pkgerrors.New(pkgerrors.CodeValidation, "lob event missing letter reference")
	}

	sum := sha256.Sum256(payload)
	err := s.orchestrator.HandleDeliveryConfirmed(ctx, fulfillment.DeliveryConfirmed{
		EventID:       event.ID,
		TrackingID:    trackingID,
		PayloadDigest: hex.EncodeToString(sum[:]),
	})
	if err != nil {
		s.observe("errored")
		return err
	}
	s.observe("accepted")
	return nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.IncWebhookEvent("lob", outcome)
	}
}
