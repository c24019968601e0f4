package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/pkg/config"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
	"github.com/appealpost/appealpost-backend/pkg/lob"
	"github.com/appealpost/appealpost-backend/pkg/resilience"
	"github.com/appealpost/appealpost-backend/pkg/types"
)

type fakeLetterClient struct {
	createFn func(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error)
	keys     []string
}

func (f *fakeLetterClient) CreateLetter(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error) {
	f.keys = append(f.keys, idempotencyKey)
	return f.createFn(ctx, idempotencyKey, req)
}

func newDispatchCaller(t *testing.T) *resilience.Caller {
	t.Helper()
	caller, err := resilience.NewCaller(resilience.CallerParams{
		Name:   "lob_letters",
		Policy: resilience.DefaultPolicy(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewCaller: %v", err)
	}
	return caller
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		FromName:  "AppealPost",
		FromLine1: "548 Market St",
		FromCity:  "San Francisco",
		FromState: "CA",
		FromZip:   "94104",
	}
}

func sendInput(orderID uuid.UUID) SendInput {
	return SendInput{
		OrderID: orderID,
		To: types.Address{
			Name:       "Oakland Parking Authority",
			Line1:      "100 Main St",
			City:       "Oakland",
			State:      "CA",
			PostalCode: "94607",
			Country:    "US",
		},
		HTML:        "<html><body>appeal</body></html>",
		Description: Describe(orderID),
	}
}

func TestSendUsesOrderIDAsIdempotencyKey(t *testing.T) {
	client := &fakeLetterClient{
		createFn: func(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error) {
			return &lob.Letter{
				ID:                   "ltr_1",
				TrackingNumber:       "9400100000000000000001",
				ExpectedDeliveryDate: "2026-03-20",
			}, nil
		},
	}
	dispatcher, err := NewClient(client, newDispatchCaller(t), testMailConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	orderID := uuid.New()
	result, err := dispatcher.Send(context.Background(), sendInput(orderID))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.keys) != 1 || client.keys[0] != orderID.String() {
		t.Fatalf("expected order id idempotency key, got %v", client.keys)
	}
	if result.ProviderID != "ltr_1" {
		t.Fatalf("unexpected provider id %s", result.ProviderID)
	}
	if result.TrackingID != "9400100000000000000001" {
		t.Fatalf("unexpected tracking id %s", result.TrackingID)
	}
	if result.ExpectedDelivery != "2026-03-20" {
		t.Fatalf("unexpected expected delivery %s", result.ExpectedDelivery)
	}
}

func TestSendFallsBackToProviderIDForTracking(t *testing.T) {
	client := &fakeLetterClient{
		createFn: func(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error) {
			return &lob.Letter{ID: "ltr_untracked"}, nil
		},
	}
	dispatcher, err := NewClient(client, newDispatchCaller(t), testMailConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	result, err := dispatcher.Send(context.Background(), sendInput(uuid.New()))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.TrackingID != "ltr_untracked" {
		t.Fatalf("expected provider id fallback, got %s", result.TrackingID)
	}
}

func TestSendRetriesKeepTheSameKey(t *testing.T) {
	calls := 0
	client := &fakeLetterClient{}
	client.createFn = func(ctx context.Context, idempotencyKey string, req lob.LetterRequest) (*lob.Letter, error) {
		calls++
		if calls == 1 {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "lob returned 503")
		}
		return &lob.Letter{ID: "ltr_1"}, nil
	}
	dispatcher, err := NewClient(client, newDispatchCaller(t), testMailConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	orderID := uuid.New()
	if _, err := dispatcher.Send(context.Background(), sendInput(orderID)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(client.keys) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(client.keys))
	}
	if client.keys[0] != client.keys[1] || client.keys[0] != orderID.String() {
		t.Fatalf("retries must reuse the order id key, got %v", client.keys)
	}
}

func TestSendValidatesInput(t *testing.T) {
	dispatcher, err := NewClient(&fakeLetterClient{}, newDispatchCaller(t), testMailConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(input *SendInput)
	}{
		{"missing order id", func(input *SendInput) { input.OrderID = uuid.Nil }},
		{"missing html", func(input *SendInput) { input.HTML = "" }},
		{"incomplete destination", func(input *SendInput) { input.To.PostalCode = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := sendInput(uuid.New())
			tc.mutate(&input)
			_, err := dispatcher.Send(context.Background(), input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
