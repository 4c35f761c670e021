package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of merchant event carried by a webhook.
type EventType string

const (
	EventPaymentIntentCreated   EventType = "payment_intent.created"
	EventPaymentIntentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    EventType = "payment_intent.failed"
	EventEndpointTest           EventType = "endpoint.test"
)

// knownEventTypes is the closed set of event types endpoints can
// subscribe to.
var knownEventTypes = map[EventType]struct{}{
	EventPaymentIntentCreated:   {},
	EventPaymentIntentSucceeded: {},
	EventPaymentIntentFailed:    {},
	EventEndpointTest:           {},
}

// IsValidEventType reports whether s names a known event type.
func IsValidEventType(s string) bool {
	_, ok := knownEventTypes[EventType(s)]
	return ok
}

// WebhookEndpoint is a merchant-registered delivery target.
// The signing secret is immutable once created; rotation means
// creating a replacement endpoint and deactivating this one.
type WebhookEndpoint struct {
	ID               uuid.UUID   `json:"id"`
	MerchantID       uuid.UUID   `json:"merchant_id"`
	URL              string      `json:"url"`
	SecretEnc        string      `json:"-"` // AES-encrypted signing secret
	SubscribedEvents []EventType `json:"subscribed_events"`
	Active           bool        `json:"active"`
	CreatedAt        time.Time   `json:"created_at"`
}

// SubscribesTo reports whether the endpoint wants events of the given
// type.
func (e *WebhookEndpoint) SubscribesTo(t EventType) bool {
	for _, s := range e.SubscribedEvents {
		if s == t {
			return true
		}
	}
	return false
}

// EndpointTarget resolves where a webhook event is delivered: either a
// registered endpoint or the merchant's legacy single webhook URL.
// Exactly one of Endpoint / LegacyURL is set.
type EndpointTarget struct {
	Endpoint     *WebhookEndpoint
	LegacyURL    string
	LegacySecret string // decrypted
}

// WebhookEvent is one delivery obligation, fanned out per endpoint.
// Retained indefinitely for audit; mutated only by the delivery worker.
type WebhookEvent struct {
	ID              string          `json:"id"` // evt_<random>
	MerchantID      uuid.UUID       `json:"merchant_id"`
	EndpointID      *uuid.UUID      `json:"webhook_endpoint_id,omitempty"` // nil = legacy single-URL
	EventType       EventType       `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Delivered       bool            `json:"delivered"`
	Attempts        int             `json:"attempts"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	ResponseStatus  *int            `json:"response_status,omitempty"`
	ResponseBody    *string         `json:"response_body,omitempty"` // truncated
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EventPayload is the JSON body posted to merchant endpoints.
type EventPayload struct {
	ID      string           `json:"id"`
	Type    EventType        `json:"type"`
	Data    EventPayloadData `json:"data"`
	Created int64            `json:"created"`
}

// EventPayloadData wraps the affected resource snapshot.
type EventPayloadData struct {
	Object any `json:"object"`
}

// NewEventID generates a webhook event id of the form evt_<random>.
func NewEventID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "evt_" + hex.EncodeToString(b)
}

// NewEndpointSecret generates a signing secret of the form
// whsec_<random>. Shown to the merchant once at creation.
func NewEndpointSecret() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return "whsec_" + hex.EncodeToString(b)
}
