package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appealpost/appealpost-backend/internal/orders"
	"github.com/appealpost/appealpost-backend/pkg/db/models"
	"github.com/appealpost/appealpost-backend/pkg/enums"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

type fakeOrderService struct {
	createFn func(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

func (f *fakeOrderService) Create(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	return f.createFn(ctx, input)
}

func (f *fakeOrderService) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return f.getFn(ctx, id)
}

func validCreateBody() map[string]any {
	return map[string]any{
		"intake_id":         uuid.NewString(),
		"stripe_session_id": "cs_test_1",
		"amount_cents":      4500,
		"customer_email":    "driver@example.com",
		"recipient": map[string]any{
			"name":        "Oakland Parking Authority",
			"line1":       "100 Main St",
			"city":        "Oakland",
			"state":       "CA",
			"postal_code": "94607",
		},
		"draft": map[string]any{
			"citation_number": "CIT-001",
			"issuing_agency":  "Oakland Parking Authority",
			"appellant_name":  "Sam Driver",
			"body":            "The meter was broken.",
		},
	}
}

func postCreateOrder(t *testing.T, handler http.HandlerFunc, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateOrderReturnsCreated(t *testing.T) {
	var gotInput orders.CreateOrderInput
	svc := &fakeOrderService{
		createFn: func(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
			gotInput = input
			return &models.Order{
				ID:              uuid.New(),
				StripeSessionID: input.StripeSessionID,
				CustomerEmail:   input.CustomerEmail,
				AmountCents:     input.AmountCents,
				Currency:        enums.CurrencyUSD,
				Status:          enums.OrderStatusPendingPayment,
				RawAddress:      input.RecipientAddress,
			}, nil
		},
	}
	handler := CreateOrder(svc, nil)

	rec := postCreateOrder(t, handler, validCreateBody())

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotInput.RecipientAddress.Country != "US" {
		t.Fatalf("expected country defaulted to US, got %q", gotInput.RecipientAddress.Country)
	}
	if gotInput.Draft.CitationNumber != "CIT-001" {
		t.Fatalf("unexpected draft input %+v", gotInput.Draft)
	}
}

func TestCreateOrderRejectsInvalidBody(t *testing.T) {
	svc := &fakeOrderService{
		createFn: func(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
			t.Fatal("invalid requests must not reach the service")
			return nil, nil
		},
	}
	handler := CreateOrder(svc, nil)

	cases := []struct {
		name   string
		mutate func(body map[string]any)
	}{
		{"bad intake id", func(body map[string]any) { body["intake_id"] = "not-a-uuid" }},
		{"missing email", func(body map[string]any) { delete(body, "customer_email") }},
		{"zero amount", func(body map[string]any) { body["amount_cents"] = 0 }},
		{"missing recipient", func(body map[string]any) { delete(body, "recipient") }},
		{"unknown field", func(body map[string]any) { body["surprise"] = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := validCreateBody()
			tc.mutate(body)
			rec := postCreateOrder(t, handler, body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateOrderConflictStatus(t *testing.T) {
	svc := &fakeOrderService{
		createFn: func(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already exists for checkout session")
		},
	}
	handler := CreateOrder(svc, nil)

	rec := postCreateOrder(t, handler, validCreateBody())
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func getOrderVia(t *testing.T, svc orders.Service, orderID string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderID}", GetOrder(svc, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGetOrderReturnsOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeOrderService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			if id != orderID {
				t.Fatalf("unexpected order id %s", id)
			}
			return &models.Order{ID: orderID, Status: enums.OrderStatusDispatched}, nil
		},
	}

	rec := getOrderVia(t, svc, orderID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data orders.OrderResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID != orderID {
		t.Fatalf("unexpected order id %s", envelope.Data.ID)
	}
	if envelope.Data.Status != string(enums.OrderStatusDispatched) {
		t.Fatalf("unexpected status %q", envelope.Data.Status)
	}
}

func TestGetOrderStatusExposesStateAndTrackingOnly(t *testing.T) {
	orderID := uuid.New()
	tracking := "trk_1"
	svc := &fakeOrderService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return &models.Order{
				ID:            orderID,
				Status:        enums.OrderStatusDispatched,
				TrackingID:    &tracking,
				CustomerEmail: "driver@example.com",
				AmountCents:   4500,
			}, nil
		},
	}

	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderID}/status", GetOrderStatus(svc, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String()+"/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data["status"] != string(enums.OrderStatusDispatched) {
		t.Fatalf("unexpected status %v", envelope.Data["status"])
	}
	if envelope.Data["tracking_id"] != tracking {
		t.Fatalf("unexpected tracking %v", envelope.Data["tracking_id"])
	}
	for key := range envelope.Data {
		switch key {
		case "id", "status", "tracking_id":
		default:
			t.Fatalf("status view must not expose %q", key)
		}
	}
}

func TestGetOrderRejectsMalformedID(t *testing.T) {
	svc := &fakeOrderService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			t.Fatal("malformed ids must not reach the service")
			return nil, nil
		},
	}

	rec := getOrderVia(t, svc, "not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderNotFoundStatus(t *testing.T) {
	svc := &fakeOrderService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}

	rec := getOrderVia(t, svc, uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
