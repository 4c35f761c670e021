package dto

import (
	"time"

	"sbtc-gateway/internal/core/domain"
)

// CreateEndpointRequest is the request body for registering a webhook
// endpoint.
type CreateEndpointRequest struct {
	URL              string   `json:"url" binding:"required,max=2048,safe_url"`
	SubscribedEvents []string `json:"subscribed_events" binding:"required,min=1"`
}

// EventTypes converts the raw strings to domain event types. Unknown
// types are rejected by the service layer.
func (r *CreateEndpointRequest) EventTypes() []domain.EventType {
	out := make([]domain.EventType, len(r.SubscribedEvents))
	for i, s := range r.SubscribedEvents {
		out[i] = domain.EventType(s)
	}
	return out
}

// EndpointResponse is the endpoint representation returned by the
// dashboard API. The signing secret appears only in CreatedEndpointResponse.
type EndpointResponse struct {
	ID               string   `json:"id"`
	URL              string   `json:"url"`
	SubscribedEvents []string `json:"subscribed_events"`
	Active           bool     `json:"active"`
	CreatedAt        string   `json:"created_at"`
}

// CreatedEndpointResponse carries the plaintext signing secret,
// returned exactly once at creation.
type CreatedEndpointResponse struct {
	EndpointResponse
	Secret string `json:"secret"`
}

// NewEndpointResponse maps a domain endpoint to its API shape.
func NewEndpointResponse(e *domain.WebhookEndpoint) EndpointResponse {
	events := make([]string, len(e.SubscribedEvents))
	for i, ev := range e.SubscribedEvents {
		events[i] = string(ev)
	}
	return EndpointResponse{
		ID:               e.ID.String(),
		URL:              e.URL,
		SubscribedEvents: events,
		Active:           e.Active,
		CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// WebhookEventResponse is one row of the delivery audit listing.
type WebhookEventResponse struct {
	ID              string  `json:"id"`
	EndpointID      *string `json:"webhook_endpoint_id,omitempty"`
	EventType       string  `json:"event_type"`
	Delivered       bool    `json:"delivered"`
	Attempts        int     `json:"attempts"`
	LastAttemptedAt *string `json:"last_attempted_at,omitempty"`
	NextRetryAt     *string `json:"next_retry_at,omitempty"`
	ResponseStatus  *int    `json:"response_status,omitempty"`
	ResponseBody    *string `json:"response_body,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// NewWebhookEventResponse maps a domain event to its audit API shape.
// The payload itself is omitted from the listing.
func NewWebhookEventResponse(e *domain.WebhookEvent) WebhookEventResponse {
	resp := WebhookEventResponse{
		ID:             e.ID,
		EventType:      string(e.EventType),
		Delivered:      e.Delivered,
		Attempts:       e.Attempts,
		ResponseStatus: e.ResponseStatus,
		ResponseBody:   e.ResponseBody,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.EndpointID != nil {
		id := e.EndpointID.String()
		resp.EndpointID = &id
	}
	if e.LastAttemptedAt != nil {
		s := e.LastAttemptedAt.UTC().Format(time.RFC3339)
		resp.LastAttemptedAt = &s
	}
	if e.NextRetryAt != nil {
		s := e.NextRetryAt.UTC().Format(time.RFC3339)
		resp.NextRetryAt = &s
	}
	return resp
}

// WebhookEventListResponse wraps the paginated audit listing.
type WebhookEventListResponse struct {
	Events   []WebhookEventResponse `json:"events"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// PaymentIntentResponse is the read-only intent view.
type PaymentIntentResponse struct {
	ID        string            `json:"id"`
	Amount    int64             `json:"amount"`
	AmountUsd *string           `json:"amount_usd,omitempty"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	TxID      *string           `json:"tx_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// NewPaymentIntentResponse maps a domain intent to its API shape.
func NewPaymentIntentResponse(p *domain.PaymentIntent) PaymentIntentResponse {
	resp := PaymentIntentResponse{
		ID:        p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		TxID:      p.TxID,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.AmountUsd != nil {
		s := p.AmountUsd.StringFixed(2)
		resp.AmountUsd = &s
	}
	return resp
}
