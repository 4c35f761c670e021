package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/internal/service"
	"sbtc-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

// popBatchLimit bounds how many due retries one poll drains.
const popBatchLimit = 100

// RetryWorker drains the durable retry queue and feeds due event ids
// to a pool of delivery goroutines. One instance runs per process.
type RetryWorker struct {
	queue        ports.RetryQueue
	eventRepo    ports.WebhookEventRepository
	delivery     ports.DeliveryService
	pollInterval time.Duration
	recoverLimit int
	workers      int
	log          zerolog.Logger

	wg sync.WaitGroup
}

// NewRetryWorker creates a new RetryWorker.
func NewRetryWorker(
	queue ports.RetryQueue,
	eventRepo ports.WebhookEventRepository,
	delivery ports.DeliveryService,
	pollInterval time.Duration,
	recoverLimit int,
	workers int,
	log zerolog.Logger,
) *RetryWorker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &RetryWorker{
		queue:        queue,
		eventRepo:    eventRepo,
		delivery:     delivery,
		pollInterval: pollInterval,
		recoverLimit: recoverLimit,
		workers:      workers,
		log:          log.With().Str("component", "retry_worker").Logger(),
	}
}

// Recover re-arms deliveries whose queue entries were lost to a
// restart. The persisted next_retry_at is authoritative; overdue
// events are scheduled for immediate delivery.
func (w *RetryWorker) Recover(ctx context.Context) error {
	events, err := w.eventRepo.ListRetryable(ctx, service.MaxDeliveryAttempts, w.recoverLimit)
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range events {
		at := *events[i].NextRetryAt
		if at.Before(now) {
			at = now
		}
		if err := w.queue.Schedule(ctx, events[i].ID, at); err != nil {
			w.log.Error().Err(err).Str("event_id", events[i].ID).Msg("recovery: failed to re-arm retry")
			continue
		}
	}

	if len(events) > 0 {
		w.log.Info().Int("count", len(events)).Msg("recovery: re-armed pending retries")
	}
	return nil
}

// Start launches the poll loop and the delivery pool. It returns
// immediately; call Stop to wait for in-flight deliveries after
// cancelling ctx.
func (w *RetryWorker) Start(ctx context.Context) {
	ids := make(chan string)

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for id := range ids {
				w.deliver(ctx, id)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(ids)

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.drain(ctx, ids)
			}
		}
	}()
}

// Stop blocks until the poll loop and all delivery goroutines exit.
func (w *RetryWorker) Stop() {
	w.wg.Wait()
}

func (w *RetryWorker) drain(ctx context.Context, ids chan<- string) {
	due, err := w.queue.PopDue(ctx, time.Now(), popBatchLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("poll: failed to pop due retries")
		return
	}
	for _, id := range due {
		select {
		case ids <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (w *RetryWorker) deliver(ctx context.Context, eventID string) {
	err := w.delivery.Deliver(ctx, eventID)
	if err == nil {
		return
	}
	// An attempt already running for this event will reschedule or
	// finalize on its own.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Code == "HOOK_002" {
		w.log.Debug().Str("event_id", eventID).Msg("poll: delivery already in flight")
		return
	}
	w.log.Error().Err(err).Str("event_id", eventID).Msg("poll: delivery failed")
}
