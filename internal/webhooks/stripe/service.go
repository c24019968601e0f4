package stripewebhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/appealpost/appealpost-backend/internal/fulfillment"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

type paymentOrchestrator interface {
	HandlePaymentConfirmed(ctx context.Context, input fulfillment.PaymentConfirmed) error
	HandleRefund(ctx context.Context, input fulfillment.Refund) error
}

type eventObserver interface {
	IncWebhookEvent(provider, outcome string)
}

// Service translates Stripe events into fulfillment commands. Events the
// pipeline does not care about are acknowledged and dropped.
type Service struct {
	orchestrator paymentOrchestrator
	observer     eventObserver
}

// NewService builds the Stripe webhook service. The observer may be nil.
func NewService(orchestrator paymentOrchestrator, observer eventObserver) (*Service, error) {
	if orchestrator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment orchestrator required")
	}
	return &Service{orchestrator: orchestrator, observer: observer}, nil
}

// HandleEvent routes a verified Stripe event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			s.observe("rejected")
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
		}
		input := fulfillment.PaymentConfirmed{
			EventID:       event.ID,
			SessionID:     session.ID,
			AmountCents:   session.AmountTotal,
			PayloadDigest: digest(event.Data.Raw),
		}
		if session.PaymentIntent != nil {
			input.PaymentIntentID = session.PaymentIntent.ID
		}
		return s.handle(ctx, func() error {
			return s.orchestrator.HandlePaymentConfirmed(ctx, input)
		})
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			s.observe("rejected")
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			s.observe("rejected")
			return pkgerrors.New(pkgerrors.CodeValidation, "refund charge missing payment intent")
		}
		return s.handle(ctx, func() error {
			return s.orchestrator.HandleRefund(ctx, fulfillment.Refund{
				EventID:         event.ID,
				PaymentIntentID: charge.PaymentIntent.ID,
				PayloadDigest:   digest(event.Data.Raw),
			})
		})
	case stripe.EventTypeChargeDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			s.observe("rejected")
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute")
		}
		if dispute.PaymentIntent == nil || dispute.PaymentIntent.ID == "" {
			s.observe("rejected")
			return pkgerrors.New(pkgerrors.CodeValidation, "dispute missing payment intent")
		}
		// A dispute claws the payment back the same way a refund does, so it
		// halts fulfillment through the same path.
		return s.handle(ctx, func() error {
			return s.orchestrator.HandleRefund(ctx, fulfillment.Refund{
				EventID:         event.ID,
				PaymentIntentID: dispute.PaymentIntent.ID,
				PayloadDigest:   digest(event.Data.Raw),
			})
		})
	default:
		s.observe("ignored")
		return nil
	}
}

func (s *Service) handle(ctx context.Context, fn func() error) error {
	if err := fn(); err != nil {
		s.observe("errored")
		return err
	}
	s.observe("accepted")
	return nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.IncWebhookEvent("stripe", outcome)
	}
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
