package opsqueue

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

// Reason classifies why an order needs manual review.
type Reason string

const (
	ReasonAddressInvalid     Reason = "address_invalid"
	ReasonDispatchFailed     Reason = "dispatch_failed"
	ReasonRefundRequested    Reason = "refund_requested"
	ReasonRefundAfterMail    Reason = "refund_after_dispatch"
	ReasonAmountMismatch     Reason = "amount_mismatch"
	ReasonEventExhausted     Reason = "event_exhausted"
	ReasonFulfillmentBlocked Reason = "fulfillment_blocked"
)

type enqueueObserver interface {
	IncOperatorEnqueue(reason string)
}

// Service appends and lists operator review tasks. Tasks are append-only;
// resolution happens in external tooling.
type Service struct {
	repo     Repository
	observer enqueueObserver
}

// NewService builds the operator queue service. The observer may be nil.
func NewService(repo Repository, observer enqueueObserver) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "operator task repository required")
	}
	return &Service{repo: repo, observer: observer}, nil
}

// Enqueue appends a review task for an order.
func (s *Service) Enqueue(ctx context.Context, orderID uuid.UUID, reason Reason, detail string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	task := &models.OperatorTask{
		OrderID: orderID,
		Reason:  string(reason),
	}
	if trimmed := strings.TrimSpace(detail); trimmed != "" {
		task.Detail = &trimmed
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue operator task")
	}
	if s.observer != nil {
		s.observer.IncOperatorEnqueue(string(reason))
	}
	return nil
}

// List returns the most recent tasks, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.OperatorTask, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	tasks, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list operator tasks")
	}
	return tasks, nil
}
