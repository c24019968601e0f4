package sendgrid

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
	defaultBaseURL             = "https://api.sendgrid.com/v3"
	errorBodyReadLimit   int64 = 4096
	defaultClientTimeout       = 35 * time.Second
)

var errAPIKeyRequired = errors.New("sendgrid api key is required")

// Client wraps the SendGrid mail-send API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	from       string
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

// WithBaseURL overrides the configured SendGrid base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the SendGrid client given an API key and default sender.
func NewClient(apiKey, defaultFrom string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		from:       strings.TrimSpace(defaultFrom),
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

// TemplateMail is one templated transactional email.
type TemplateMail struct {
	To         string
	TemplateID string
	Data       map[string]any
}

type mailAddress struct {
	Email string `json:"email"`
}

type personalization struct {
	To                  []mailAddress  `json:"to"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type sendPayload struct {
	Personalizations []personalization `json:"personalizations"`
	From             mailAddress       `json:"from"`
	TemplateID       string            `json:"template_id"`
}

// SendTemplate submits one templated email through the mail-send API.
func (c *Client) SendTemplate(ctx context.Context, mail TemplateMail) error {
	if strings.TrimSpace(mail.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient is required")
	}
	if strings.TrimSpace(mail.TemplateID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "template id is required")
	}

	payload := sendPayload{
		Personalizations: []personalization{{
			To:                  []mailAddress{{Email: mail.To}},
			DynamicTemplateData: mail.Data,
		}},
		From:       mailAddress{Email: c.from},
		TemplateID: mail.TemplateID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode sendgrid request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build sendgrid request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sendgrid request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	msg := fmt.Sprintf("sendgrid returned %d", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, msg).WithDetails(string(detail))
	case resp.StatusCode >= 500:
		return pkgerrors.New(pkgerrors.CodeDependency, msg).WithDetails(string(detail))
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(string(detail))
	}
}
