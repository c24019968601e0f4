package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type draftWriter interface {
	CreateWithTx(ctx context.Context, tx *gorm.DB, draft *models.Draft) error
}

// Service defines intake and read operations on orders.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type service struct {
	repo   Repository
	drafts draftWriter
	tx     txRunner
}

// DraftInput is the appeal content captured at intake.
type DraftInput struct {
	CitationNumber string
	IssuingAgency  string
	AppellantName  string
	Body           string
}

// CreateOrderInput registers a checkout-initiated order awaiting payment.
type CreateOrderInput struct {
	IntakeID         uuid.UUID
	StripeSessionID  string
	AmountCents      int
	Currency         enums.Currency
	CustomerEmail    string
	RecipientAddress types.Address
	Draft            DraftInput
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, drafts draftWriter, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if drafts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "draft writer required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &service{repo: repo, drafts: drafts, tx: tx}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.IntakeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intake id is required")
	}
	if strings.TrimSpace(input.StripeSessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe session id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.CustomerEmail) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if !input.RecipientAddress.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient address is incomplete")
	}
	if strings.TrimSpace(input.Draft.CitationNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "citation number is required")
	}
	if strings.TrimSpace(input.Draft.Body) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "appeal body is required")
	}

	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		draft := &models.Draft{
			CitationNumber: strings.TrimSpace(input.Draft.CitationNumber),
			IssuingAgency:  strings.TrimSpace(input.Draft.IssuingAgency),
			AppellantName:  strings.TrimSpace(input.Draft.AppellantName),
			Body:           input.Draft.Body,
		}
		if err := s.drafts.CreateWithTx(ctx, tx, draft); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create draft")
		}

		order = &models.Order{
			IntakeID:        input.IntakeID,
			DraftID:         draft.ID,
			StripeSessionID: strings.TrimSpace(input.StripeSessionID),
			CustomerEmail:   strings.TrimSpace(input.CustomerEmail),
			AmountCents:     input.AmountCents,
			Currency:        currency,
			Status:          enums.OrderStatusPendingPayment,
			RawAddress:      input.RecipientAddress,
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if pkgerrors.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already exists for checkout session")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
