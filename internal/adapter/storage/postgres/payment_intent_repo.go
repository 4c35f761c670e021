package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sbtc-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// PaymentIntentRepo implements ports.PaymentIntentRepository.
type PaymentIntentRepo struct {
	pool Pool
}

// NewPaymentIntentRepo creates a new PaymentIntentRepo.
func NewPaymentIntentRepo(pool Pool) *PaymentIntentRepo {
	return &PaymentIntentRepo{pool: pool}
}

const paymentIntentColumns = `id, merchant_id, product_id, amount, amount_usd, currency, status,
	customer_address, tx_id, metadata, created_at, updated_at`

// GetByID fetches a payment intent by its pi_ id.
func (r *PaymentIntentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_intents WHERE id = $1`, paymentIntentColumns)
	return r.scanIntent(r.pool.QueryRow(ctx, query, id))
}

// GetByTxID fetches the intent already bound to an on-chain
// transaction id. Returns nil when no intent claims the transaction.
func (r *PaymentIntentRepo) GetByTxID(ctx context.Context, txID string) (*domain.PaymentIntent, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_intents WHERE tx_id = $1`, paymentIntentColumns)
	return r.scanIntent(r.pool.QueryRow(ctx, query, txID))
}

// ListCandidates returns open intents created at or after since,
// oldest first. The order is the matcher's first-match scan order and
// must stay stable.
func (r *PaymentIntentRepo) ListCandidates(ctx context.Context, since time.Time) ([]domain.PaymentIntent, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_intents
		WHERE status IN ('created', 'pending') AND created_at >= $1
		ORDER BY created_at ASC`, paymentIntentColumns)

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list candidate intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		p := domain.PaymentIntent{}
		if err := scanIntentFields(rows, &p); err != nil {
			return nil, fmt.Errorf("scan candidate intent: %w", err)
		}
		intents = append(intents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate intents: %w", err)
	}
	return intents, nil
}

// UpdateStatusIf performs the conditional transition. The status guard
// in the WHERE clause is what makes settling exactly-once under
// concurrent batches: only one update finds the expected status. The
// metadata patch is merged additively via jsonb ||.
func (r *PaymentIntentRepo) UpdateStatusIf(ctx context.Context, id string, expected, next domain.PaymentIntentStatus, txID string, metadataPatch map[string]string) (bool, error) {
	patch, err := json.Marshal(metadataPatch)
	if err != nil {
		return false, fmt.Errorf("marshal metadata patch: %w", err)
	}

	query := `UPDATE payment_intents
		SET status = $1, tx_id = $2, metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb, updated_at = $4
		WHERE id = $5 AND status = $6`

	tag, err := r.pool.Exec(ctx, query, next, txID, patch, time.Now().UTC(), id, expected)
	if err != nil {
		return false, fmt.Errorf("conditional intent update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentIntentRepo) scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	p := &domain.PaymentIntent{}
	if err := scanIntentFields(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	return p, nil
}

func scanIntentFields(row pgx.Row, p *domain.PaymentIntent) error {
	return row.Scan(
		&p.ID, &p.MerchantID, &p.ProductID, &p.Amount, &p.AmountUsd,
		&p.Currency, &p.Status, &p.CustomerAddress, &p.TxID, &p.Metadata,
		&p.CreatedAt, &p.UpdatedAt,
	)
}
