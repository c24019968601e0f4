package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/config"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/lob"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

type letterClient interface {
	CreateLetter(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error)
}

// SendInput carries everything one dispatch needs.
type SendInput struct {
	OrderID     uuid.UUID
	To          types.Address
	HTML        string
	Description string
}

// Result is the provider's record of the accepted letter.
type Result struct {
	ProviderID       string
	TrackingID       string
	ExpectedDelivery string
}

// Client sends assembled documents to the mail provider. The order id is the
// provider-side idempotency key, so a retried dispatch after an ambiguous
// failure cannot print a second letter.
type Client struct {
	letters letterClient
	caller  *resilience.Caller
	from    lob.LetterAddress
}

// NewClient builds the dispatch client with the configured return address.
func NewClient(letters letterClient, caller *resilience.Caller, mail config.MailConfig) (*Client, error) {
	if letters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "letter client required")
	}
	if caller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "resilience caller required")
	}
	return &Client{
		letters: letters,
		caller:  caller,
		from: lob.LetterAddress{
			Name:         mail.FromName,
			AddressLine1: mail.FromLine1,
			AddressLine2: mail.FromLine2,
			AddressCity:  mail.FromCity,
			AddressState: mail.FromState,
			AddressZip:   mail.FromZip,
		},
	}, nil
}

// Send submits the letter for physical dispatch.
func (c *Client) Send(ctx context.Context, input SendInput) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.HTML == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "document html is required")
	}
	if !input.To.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination address is incomplete")
	}

	to := lob.LetterAddress{
		Name:         input.To.Name,
		AddressLine1: input.To.Line1,
		AddressCity:  input.To.City,
		AddressState: input.To.State,
		AddressZip:   input.To.PostalCode,
	}
	if input.To.Line2 != nil {
		to.AddressLine2 = *input.To.Line2
	}

	req := lob.LetterRequest{
		Description: input.Description,
		To:          to,
		From:        c.from,
		File:        input.HTML,
		Color:       false,
		UseType:     "operational",
		Metadata:    map[string]string{"order_id": input.OrderID.String()},
	}

	var result *Result
	err := c.caller.Do(ctx, "create_letter", func(ctx context.Context) error {
		letter, err := c.letters.CreateLetter(ctx, input.OrderID.String(), req)
		if err != nil {
			return err
		}
		result = &Result{
			ProviderID:       letter.ID,
			TrackingID:       letter.TrackingNumber,
			ExpectedDelivery: letter.ExpectedDeliveryDate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.TrackingID == "" {
		// Some letter classes have no tracking number; the provider id still
		// identifies the dispatch.
		result.TrackingID = result.ProviderID
	}
	return result, nil
}

// Describe builds the provider-visible description for an order's letter.
func Describe(orderID uuid.UUID) string {
	return fmt.Sprintf("appeal letter %s", orderID)
}
