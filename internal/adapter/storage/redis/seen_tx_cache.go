package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SeenTxCache implements ports.SeenTxCache using Redis. It is a
// best-effort dedupe fast path over processed chain transaction ids;
// callers treat read failures as not-seen.
type SeenTxCache struct {
	client *goredis.Client
	prefix string
}

// NewSeenTxCache creates a new Redis-backed seen-transaction cache.
func NewSeenTxCache(client *goredis.Client) *SeenTxCache {
	return &SeenTxCache{
		client: client,
		prefix: "seen_tx:",
	}
}

// Seen reports whether txID was already processed.
func (c *SeenTxCache) Seen(ctx context.Context, txID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+txID).Result()
	if err != nil {
		return false, fmt.Errorf("redis seen-tx exists: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records txID as processed for ttl.
func (c *SeenTxCache) MarkSeen(ctx context.Context, txID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+txID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis seen-tx set: %w", err)
	}
	return nil
}
