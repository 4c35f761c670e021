package ports

import (
	"context"
	"time"

	"sbtc-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption of
// signing secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService signs and verifies webhook payloads. The signature
// header format (t=<unix>,v1=<hex>) and the 300s verification
// tolerance are fixed contracts shared with merchant SDKs.
type SignatureService interface {
	Sign(payload []byte, secret string) string
	SignAt(payload []byte, secret string, at time.Time) string
	Verify(payload []byte, signatureHeader, secret string) bool
}

// TokenService handles JWT token operations for the dashboard API.
type TokenService interface {
	Generate(merchantID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	MerchantID uuid.UUID
}

// RetryQueue is the durable delayed-delivery queue. Scheduled entries
// survive process restarts; the retry worker drains due entries.
type RetryQueue interface {
	// Schedule arms a delivery of event id at the given time. Safe to
	// call again for the same id; the later schedule wins.
	Schedule(ctx context.Context, eventID string, at time.Time) error
	// PopDue removes and returns up to limit event ids due at or
	// before now.
	PopDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// SeenTxCache is a best-effort fast path over already-processed chain
// transaction ids. Correctness does not depend on it; the exact-match
// lookup and the terminal-state guard remain authoritative.
type SeenTxCache interface {
	Seen(ctx context.Context, txID string) (bool, error)
	MarkSeen(ctx context.Context, txID string, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// MatcherService decides which payment intent a confirmed chain
// transaction settles.
type MatcherService interface {
	// Match returns the settled intent, or nil when no intent
	// qualifies (not an error).
	Match(ctx context.Context, tx *domain.ChainTransaction) (*domain.PaymentIntent, error)
}

// TransitionService applies a matched outcome to a payment intent,
// exactly once per transaction, and triggers webhook fan-out on a
// winning transition.
type TransitionService interface {
	// Apply returns true if this call performed the transition.
	// Already-terminal intents are a no-op, not an error.
	Apply(ctx context.Context, intent *domain.PaymentIntent, tx *domain.ChainTransaction) (bool, error)
}

// DispatchService fans a merchant event out to subscribed endpoints.
type DispatchService interface {
	// Dispatch creates one WebhookEvent per active subscribed
	// endpoint (or the single endpointOverride) and hands each to the
	// delivery worker. Zero configured endpoints is a silent no-op.
	Dispatch(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType, object any, endpointOverride *uuid.UUID) error
}

// DeliveryService performs one signed delivery attempt for a persisted
// webhook event and schedules the bounded retry on failure.
type DeliveryService interface {
	Deliver(ctx context.Context, eventID string) error
}

// IngestService is the chain event receiver: it validates a chainhook
// batch and drives each transaction through match, transition and
// fan-out.
type IngestService interface {
	ProcessBatch(ctx context.Context, batch *domain.ChainhookBatch) (*IngestSummary, error)
}

// IngestSummary reports what a batch produced.
type IngestSummary struct {
	BlocksApplied int `json:"blocks_applied"`
	Transactions  int `json:"transactions"`
	Matched       int `json:"matched"`
	Skipped       int `json:"skipped"`
	RolledBack    int `json:"rollback_blocks_ignored"`
}

// EndpointService manages merchant webhook endpoints and test events.
type EndpointService interface {
	Create(ctx context.Context, merchantID uuid.UUID, url string, events []domain.EventType) (*domain.WebhookEndpoint, string, error) // endpoint, plaintext secret
	List(ctx context.Context, merchantID uuid.UUID) ([]domain.WebhookEndpoint, error)
	Deactivate(ctx context.Context, merchantID, id uuid.UUID) error
	// SendTest dispatches an endpoint.test event to the one endpoint.
	SendTest(ctx context.Context, merchantID, id uuid.UUID) error
}
