package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/api/responses"
	"github.com/appealpost/appealpost-backend/api/validators"
	"github.com/appealpost/appealpost-backend/internal/orders"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/logger"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

type createOrderRequest struct {
	IntakeID        string         `json:"intake_id" validate:"required,uuid"`
	StripeSessionID string         `json:"stripe_session_id" validate:"required"`
	AmountCents     int            `json:"amount_cents" validate:"required,gt=0"`
	Currency        string         `json:"currency" validate:"omitempty,len=3"`
	CustomerEmail   string         `json:"customer_email" validate:"required,email"`
	Recipient       addressPayload `json:"recipient" validate:"required"`
	Draft           draftPayload   `json:"draft" validate:"required"`
}

type addressPayload struct {
	Name       string  `json:"name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"omitempty,len=2"`
}

type draftPayload struct {
	CitationNumber string `json:"citation_number" validate:"required"`
	IssuingAgency  string `json:"issuing_agency" validate:"required"`
	AppellantName  string `json:"appellant_name" validate:"required"`
	Body           string `json:"body" validate:"required,min=1,max=20000"`
}

// CreateOrder registers a checkout-initiated order awaiting payment.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		intakeID, err := uuid.Parse(req.IntakeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "intake_id must be a valid uuid"))
			return
		}

		country := req.Recipient.Country
		if country == "" {
			country = "US"
		}

		order, err := svc.Create(ctx, orders.CreateOrderInput{
			IntakeID:        intakeID,
			StripeSessionID: req.StripeSessionID,
			AmountCents:     req.AmountCents,
			Currency:        enums.Currency(req.Currency),
			CustomerEmail:   req.CustomerEmail,
			RecipientAddress: types.Address{
				Name:       req.Recipient.Name,
				Line1:      req.Recipient.Line1,
				Line2:      req.Recipient.Line2,
				City:       req.Recipient.City,
				State:      req.Recipient.State,
				PostalCode: req.Recipient.PostalCode,
				Country:    country,
			},
			Draft: orders.DraftInput{
				CitationNumber: req.Draft.CitationNumber,
				IssuingAgency:  req.Draft.IssuingAgency,
				AppellantName:  req.Draft.AppellantName,
				Body:           req.Draft.Body,
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orders.ToResponse(order))
	}
}

// GetOrder returns the fulfillment status of one order.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a valid uuid"))
			return
		}

		order, err := svc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, orders.ToResponse(order))
	}
}

// GetOrderStatus is the polling endpoint for intake clients: state and
// tracking id only, nothing about the pipeline internals.
func GetOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a valid uuid"))
			return
		}

		order, err := svc.Get(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, orders.ToStatusResponse(order))
	}
}
