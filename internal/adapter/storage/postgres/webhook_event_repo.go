package postgres

import (
	"context"
	"errors"
	"fmt"

	"sbtc-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

const eventColumns = `id, merchant_id, webhook_endpoint_id, event_type, payload, delivered, attempts,
	last_attempted_at, next_retry_at, response_status, response_body, created_at, updated_at`

// Insert persists a freshly fanned-out event.
func (r *WebhookEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (id, merchant_id, webhook_endpoint_id, event_type, payload,
		delivered, attempts, last_attempted_at, next_retry_at, response_status, response_body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.MerchantID, event.EndpointID, event.EventType, []byte(event.Payload),
		event.Delivered, event.Attempts, event.LastAttemptedAt, event.NextRetryAt,
		event.ResponseStatus, event.ResponseBody, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetByID fetches a webhook event by its evt_ id.
func (r *WebhookEventRepo) GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_events WHERE id = $1`, eventColumns)
	return r.scanEvent(r.pool.QueryRow(ctx, query, id))
}

// Update persists the outcome of a delivery attempt.
func (r *WebhookEventRepo) Update(ctx context.Context, event *domain.WebhookEvent) error {
	query := `UPDATE webhook_events SET delivered = $1, attempts = $2, last_attempted_at = $3,
		next_retry_at = $4, response_status = $5, response_body = $6, updated_at = $7
		WHERE id = $8`

	tag, err := r.pool.Exec(ctx, query,
		event.Delivered, event.Attempts, event.LastAttemptedAt, event.NextRetryAt,
		event.ResponseStatus, event.ResponseBody, event.UpdatedAt, event.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", event.ID)
	}
	return nil
}

// ListRetryable returns undelivered events that still carry a retry
// schedule. Terminal events have next_retry_at cleared, so the filter
// alone keeps them out of the recovery sweep.
func (r *WebhookEventRepo) ListRetryable(ctx context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_events
		WHERE delivered = false AND next_retry_at IS NOT NULL AND attempts < $1
		ORDER BY next_retry_at ASC LIMIT $2`, eventColumns)

	rows, err := r.pool.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListByMerchant returns the merchant's events newest first, paginated,
// for the delivery audit listing.
func (r *WebhookEventRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, page, pageSize int) ([]domain.WebhookEvent, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_events WHERE merchant_id = $1`, merchantID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count webhook events: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`SELECT %s FROM webhook_events
		WHERE merchant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, eventColumns)

	rows, err := r.pool.Query(ctx, query, merchantID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *WebhookEventRepo) scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	e := &domain.WebhookEvent{}
	if err := scanEventFields(row, e); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan webhook event: %w", err)
	}
	return e, nil
}

func collectEvents(rows pgx.Rows) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	for rows.Next() {
		e := domain.WebhookEvent{}
		if err := scanEventFields(rows, &e); err != nil {
			return nil, fmt.Errorf("scan webhook event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook event rows: %w", err)
	}
	return events, nil
}

func scanEventFields(row pgx.Row, e *domain.WebhookEvent) error {
	var payload []byte
	err := row.Scan(
		&e.ID, &e.MerchantID, &e.EndpointID, &e.EventType, &payload,
		&e.Delivered, &e.Attempts, &e.LastAttemptedAt, &e.NextRetryAt,
		&e.ResponseStatus, &e.ResponseBody, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}
