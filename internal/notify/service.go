package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/config"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/sendgrid"
)

type mailSender interface {
	SendTemplate(ctx context.Context, mail sendgrid.TemplateMail) error
}

// DispatchedInput carries the fields surfaced in the dispatch confirmation
// email.
type DispatchedInput struct {
	Email            string
	OrderID          uuid.UUID
	TrackingID       string
	ExpectedDelivery string
}

// Service sends customer notifications. Callers treat delivery as best
// effort; a failed email never blocks fulfillment.
type Service struct {
	sender               mailSender
	caller               *resilience.Caller
	dispatchedTemplateID string
}

// NewService builds the notification service.
func NewService(sender mailSender, caller *resilience.Caller, cfg config.SendgridConfig) (*Service, error) {
	if sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail sender required")
	}
	if caller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resilience caller required")
	}
	return &Service{
		sender:               sender,
		caller:               caller,
		dispatchedTemplateID: strings.TrimSpace(cfg.DispatchedTemplateID),
	}, nil
}

// OrderDispatched emails the customer that their appeal letter is in the
// mail.
func (s *Service) OrderDispatched(ctx context.Context, input DispatchedInput) error {
	if strings.TrimSpace(input.Email) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}
	if s.dispatchedTemplateID == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "dispatched template id not configured")
	}

	mail := sendgrid.TemplateMail{
		To:         input.Email,
		TemplateID: s.dispatchedTemplateID,
		Data: map[string]any{
			"order_id":          input.OrderID.String(),
			"tracking_id":       input.TrackingID,
			"expected_delivery": input.ExpectedDelivery,
		},
	}

	return s.caller.Do(ctx, "order_dispatched_email", func(ctx context.Context) error {
		return s.sender.SendTemplate(ctx, mail)
	})
}
