package ports

import (
	"context"
	"time"

	"sbtc-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// PaymentIntentRepository defines persistence operations for payment
// intents. The core never creates or deletes intents; the checkout
// flow owns creation.
type PaymentIntentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error)
	// GetByTxID returns the intent already bound to an on-chain
	// transaction id, or nil. This is the exact-match fast path.
	GetByTxID(ctx context.Context, txID string) (*domain.PaymentIntent, error)
	// ListCandidates returns open intents (created/pending) created
	// at or after since, oldest first. Scan order is the matcher's
	// first-match order.
	ListCandidates(ctx context.Context, since time.Time) ([]domain.PaymentIntent, error)
	// UpdateStatusIf performs the conditional transition: it updates
	// status, tx_id and merges metadataPatch only when the stored
	// status still equals expected. Returns false when the condition
	// did not hold (someone else won, or the intent is terminal).
	UpdateStatusIf(ctx context.Context, id string, expected, next domain.PaymentIntentStatus, txID string, metadataPatch map[string]string) (bool, error)
}

// WebhookEndpointRepository defines persistence for merchant delivery
// targets.
type WebhookEndpointRepository interface {
	Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error)
	// ListActive returns the merchant's active endpoints subscribed
	// to eventType.
	ListActive(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType) ([]domain.WebhookEndpoint, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.WebhookEndpoint, error)
	Deactivate(ctx context.Context, merchantID, id uuid.UUID) error
}

// WebhookEventRepository defines persistence for delivery obligations.
// Events are append-mostly: inserted at fan-out, mutated only by the
// delivery worker, never deleted.
type WebhookEventRepository interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) error
	GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error)
	Update(ctx context.Context, event *domain.WebhookEvent) error
	// ListRetryable returns undelivered events that still have a
	// scheduled retry (next_retry_at set, attempts below the cap).
	// Used by the startup recovery sweep.
	ListRetryable(ctx context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error)
	// ListByMerchant returns the merchant's events newest first, for
	// the audit listing.
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, page, pageSize int) ([]domain.WebhookEvent, int64, error)
}

// MerchantRepository defines persistence operations for merchants.
type MerchantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
}
