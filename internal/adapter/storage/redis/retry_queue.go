package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RetryQueue implements ports.RetryQueue as a Redis sorted set scored
// by due time in unix milliseconds. Entries survive process restarts,
// which is what makes the retry schedule durable.
type RetryQueue struct {
	client *goredis.Client
	key    string
}

// NewRetryQueue creates a new Redis-backed retry queue.
func NewRetryQueue(client *goredis.Client) *RetryQueue {
	return &RetryQueue{
		client: client,
		key:    "webhook:retries",
	}
}

// Schedule arms a delivery of eventID at the given time. ZADD
// overwrites the score, so rescheduling the same event moves its due
// time instead of duplicating it.
func (q *RetryQueue) Schedule(ctx context.Context, eventID string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: eventID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis retry schedule: %w", err)
	}
	return nil
}

// PopDue removes and returns up to limit event ids due at or before
// now. There is a single retry worker draining the queue, so the
// read-then-remove pair does not need to be atomic.
func (q *RetryQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis retry pop: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := q.client.ZRem(ctx, q.key, members...).Err(); err != nil {
		return nil, fmt.Errorf("redis retry remove: %w", err)
	}
	return ids, nil
}
