package lob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.lob.com/v1"
	idempotencyHeader          = "Idempotency-Key"
	errorBodyReadLimit   int64 = 4096
	defaultClientTimeout       = 35 * time.Second
)

var errAPIKeyRequired = errors.New("lob api key is required")

// Client wraps the Lob APIs used for address verification and letter dispatch.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured Lob base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Lob client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// VerificationRequest is the payload sent to the US verifications API.
type VerificationRequest struct {
	PrimaryLine   string `json:"primary_line"`
	SecondaryLine string `json:"secondary_line,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	ZipCode       string `json:"zip_code,omitempty"`
}

// Verification is the normalized response from the US verifications API.
type Verification struct {
	ID             string                 `json:"id"`
	Deliverability string                 `json:"deliverability"`
	PrimaryLine    string                 `json:"primary_line"`
	SecondaryLine  string                 `json:"secondary_line"`
	Components     VerificationComponents `json:"components"`
}

// VerificationComponents carries the parsed address pieces Lob returns.
type VerificationComponents struct {
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	ZipCodePlus4 string `json:"zip_code_plus_4"`
}

// Deliverable reports whether the verified address accepts mail.
func (v *Verification) Deliverable() bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(v.Deliverability) {
	case "deliverable", "deliverable_unnecessary_unit", "deliverable_incorrect_unit", "deliverable_missing_unit":
		return true
	default:
		return false
	}
}

// VerifyUSAddress submits an address for verification and normalization.
func (c *Client) VerifyUSAddress(ctx context.Context, req VerificationRequest) (*Verification, error) {
	if strings.TrimSpace(req.PrimaryLine) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "primary line is required")
	}

	var out Verification
	if err := c.post(ctx, "/us_verifications", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LetterAddress is the recipient/sender shape for letter creation.
type LetterAddress struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	AddressCity  string `json:"address_city"`
	AddressState string `json:"address_state"`
	AddressZip   string `json:"address_zip"`
}

// LetterRequest is the payload sent to the letters API. The HTML file is the
// assembled appeal document.
type LetterRequest struct {
	Description string            `json:"description,omitempty"`
	To          LetterAddress     `json:"to"`
	From        LetterAddress     `json:"from"`
	File        string            `json:"file"`
	Color       bool              `json:"color"`
	UseType     string            `json:"use_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Letter is the response returned by the letters API.
type Letter struct {
	ID                   string `json:"id"`
	TrackingNumber       string `json:"tracking_number"`
	ExpectedDeliveryDate string `json:"expected_delivery_date"`
	Status               string `json:"status"`
}

// CreateLetter submits a letter for physical dispatch. The idempotency key
// makes a retry after an ambiguous network failure safe: Lob returns the
// original letter instead of printing a second one.
func (c *Client) CreateLetter(ctx context.Context, idempotencyKey string, req LetterRequest) (*Letter, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if strings.TrimSpace(req.File) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "letter file is required")
	}

	var out Letter
	if err := c.post(ctx, "/letters", idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode lob request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build lob request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, "")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lob request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode lob response")
		}
		return nil
	}

	return classifyStatus(resp)
}

func classifyStatus(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	msg := fmt.Sprintf("lob returned %d", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, msg).WithDetails(string(detail))
	case resp.StatusCode >= 500:
		return pkgerrors.New(pkgerrors.CodeDependency, msg).WithDetails(string(detail))
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(string(detail))
	}
}
