package enums

import "fmt"

// WebhookEventOutcome tracks processing of one inbound provider event.
// Outcomes only move forward: processing -> processed or failed.
type WebhookEventOutcome string

const (
	WebhookEventProcessing WebhookEventOutcome = "processing"
	WebhookEventProcessed  WebhookEventOutcome = "processed"
	WebhookEventFailed     WebhookEventOutcome = "failed"
)

var validWebhookEventOutcomes = []WebhookEventOutcome{
	WebhookEventProcessing,
	WebhookEventProcessed,
	WebhookEventFailed,
}

// String implements fmt.Stringer.
func (o WebhookEventOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known WebhookEventOutcome.
func (o WebhookEventOutcome) IsValid() bool {
	for _, candidate := range validWebhookEventOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseWebhookEventOutcome converts raw input into a WebhookEventOutcome.
func ParseWebhookEventOutcome(value string) (WebhookEventOutcome, error) {
	for _, candidate := range validWebhookEventOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event outcome %q", value)
}
