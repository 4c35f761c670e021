package postgres

import (
	"context"
	"errors"
	"fmt"

	"sbtc-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookEndpointRepo implements ports.WebhookEndpointRepository.
type WebhookEndpointRepo struct {
	pool Pool
}

// NewWebhookEndpointRepo creates a new WebhookEndpointRepo.
func NewWebhookEndpointRepo(pool Pool) *WebhookEndpointRepo {
	return &WebhookEndpointRepo{pool: pool}
}

const endpointColumns = `id, merchant_id, url, secret_enc, subscribed_events, active, created_at`

// Create inserts a new endpoint.
func (r *WebhookEndpointRepo) Create(ctx context.Context, endpoint *domain.WebhookEndpoint) error {
	query := `INSERT INTO webhook_endpoints (id, merchant_id, url, secret_enc, subscribed_events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		endpoint.ID, endpoint.MerchantID, endpoint.URL, endpoint.SecretEnc,
		eventTypeStrings(endpoint.SubscribedEvents), endpoint.Active, endpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetByID fetches an endpoint by id.
func (r *WebhookEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_endpoints WHERE id = $1`, endpointColumns)
	return r.scanEndpoint(r.pool.QueryRow(ctx, query, id))
}

// ListActive returns the merchant's active endpoints subscribed to
// eventType. The subscription filter runs in SQL so fan-out reads
// exactly the targets it will write events for.
func (r *WebhookEndpointRepo) ListActive(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType) ([]domain.WebhookEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_endpoints
		WHERE merchant_id = $1 AND active = true AND $2 = ANY(subscribed_events)
		ORDER BY created_at ASC`, endpointColumns)

	return r.listEndpoints(ctx, query, merchantID, string(eventType))
}

// ListByMerchant returns all of the merchant's endpoints.
func (r *WebhookEndpointRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.WebhookEndpoint, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_endpoints
		WHERE merchant_id = $1 ORDER BY created_at ASC`, endpointColumns)

	return r.listEndpoints(ctx, query, merchantID)
}

// Deactivate retires an endpoint. Idempotent: deactivating an already
// inactive endpoint succeeds.
func (r *WebhookEndpointRepo) Deactivate(ctx context.Context, merchantID, id uuid.UUID) error {
	query := `UPDATE webhook_endpoints SET active = false WHERE id = $1 AND merchant_id = $2`

	tag, err := r.pool.Exec(ctx, query, id, merchantID)
	if err != nil {
		return fmt.Errorf("deactivate webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook endpoint not found: %s", id)
	}
	return nil
}

func (r *WebhookEndpointRepo) listEndpoints(ctx context.Context, query string, args ...any) ([]domain.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.WebhookEndpoint
	for rows.Next() {
		e := domain.WebhookEndpoint{}
		var events []string
		err := rows.Scan(&e.ID, &e.MerchantID, &e.URL, &e.SecretEnc, &events, &e.Active, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint row: %w", err)
		}
		e.SubscribedEvents = eventTypes(events)
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook endpoint rows: %w", err)
	}
	return endpoints, nil
}

func (r *WebhookEndpointRepo) scanEndpoint(row pgx.Row) (*domain.WebhookEndpoint, error) {
	e := &domain.WebhookEndpoint{}
	var events []string
	err := row.Scan(&e.ID, &e.MerchantID, &e.URL, &e.SecretEnc, &events, &e.Active, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook endpoint: %w", err)
	}
	e.SubscribedEvents = eventTypes(events)
	return e, nil
}

// subscribed_events is a text[] column; conversion keeps the domain
// type out of the wire format.
func eventTypeStrings(events []domain.EventType) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev)
	}
	return out
}

func eventTypes(events []string) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, ev := range events {
		out[i] = domain.EventType(ev)
	}
	return out
}
