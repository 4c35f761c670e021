package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports/mocks"
	"sbtc-gateway/internal/service"
	"sbtc-gateway/pkg/apperror"
)

func newWorkerForTest(t *testing.T) (*RetryWorker, *mocks.MockRetryQueue, *mocks.MockWebhookEventRepository, *mocks.MockDeliveryService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockRetryQueue(ctrl)
	eventRepo := mocks.NewMockWebhookEventRepository(ctrl)
	delivery := mocks.NewMockDeliveryService(ctrl)
	w := NewRetryWorker(queue, eventRepo, delivery, 5*time.Millisecond, 500, 2, zerolog.Nop())
	return w, queue, eventRepo, delivery
}

func TestRecover_ReArmsPendingRetries(t *testing.T) {
	w, queue, eventRepo, _ := newWorkerForTest(t)

	overdue := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)
	eventRepo.EXPECT().ListRetryable(gomock.Any(), service.MaxDeliveryAttempts, 500).Return([]domain.WebhookEvent{
		{ID: "evt_overdue", NextRetryAt: &overdue, Attempts: 2},
		{ID: "evt_future", NextRetryAt: &future, Attempts: 1},
	}, nil)

	var overdueAt, futureAt time.Time
	queue.EXPECT().Schedule(gomock.Any(), "evt_overdue", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, at time.Time) error {
			overdueAt = at
			return nil
		})
	queue.EXPECT().Schedule(gomock.Any(), "evt_future", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, at time.Time) error {
			futureAt = at
			return nil
		})

	require.NoError(t, w.Recover(context.Background()))

	// Overdue entries are pulled forward to now, future ones keep
	// their persisted schedule.
	assert.WithinDuration(t, time.Now(), overdueAt, time.Second)
	assert.Equal(t, future, futureAt)
}

func TestRecover_SchedulingFailureSkipsEntry(t *testing.T) {
	w, queue, eventRepo, _ := newWorkerForTest(t)

	at := time.Now().Add(time.Minute)
	eventRepo.EXPECT().ListRetryable(gomock.Any(), service.MaxDeliveryAttempts, 500).Return([]domain.WebhookEvent{
		{ID: "evt_1", NextRetryAt: &at},
		{ID: "evt_2", NextRetryAt: &at},
	}, nil)
	queue.EXPECT().Schedule(gomock.Any(), "evt_1", gomock.Any()).Return(errors.New("redis down"))
	queue.EXPECT().Schedule(gomock.Any(), "evt_2", gomock.Any()).Return(nil)

	assert.NoError(t, w.Recover(context.Background()))
}

func TestRecover_RepoError(t *testing.T) {
	w, _, eventRepo, _ := newWorkerForTest(t)

	eventRepo.EXPECT().ListRetryable(gomock.Any(), service.MaxDeliveryAttempts, 500).
		Return(nil, errors.New("connection refused"))

	assert.Error(t, w.Recover(context.Background()))
}

func TestStart_DeliversDueEvents(t *testing.T) {
	w, queue, _, delivery := newWorkerForTest(t)

	delivered := make(chan string, 2)
	first := queue.EXPECT().PopDue(gomock.Any(), gomock.Any(), popBatchLimit).
		Return([]string{"evt_a", "evt_b"}, nil)
	queue.EXPECT().PopDue(gomock.Any(), gomock.Any(), popBatchLimit).
		Return(nil, nil).AnyTimes().After(first)

	delivery.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) error {
			delivered <- id
			return nil
		}).Times(2)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-delivered:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
	}
	cancel()
	w.Stop()

	assert.True(t, got["evt_a"])
	assert.True(t, got["evt_b"])
}

func TestStart_PopFailureKeepsPolling(t *testing.T) {
	w, queue, _, delivery := newWorkerForTest(t)

	delivered := make(chan string, 1)
	failed := queue.EXPECT().PopDue(gomock.Any(), gomock.Any(), popBatchLimit).
		Return(nil, errors.New("redis down"))
	recovered := queue.EXPECT().PopDue(gomock.Any(), gomock.Any(), popBatchLimit).
		Return([]string{"evt_late"}, nil).After(failed)
	queue.EXPECT().PopDue(gomock.Any(), gomock.Any(), popBatchLimit).
		Return(nil, nil).AnyTimes().After(recovered)

	delivery.EXPECT().Deliver(gomock.Any(), "evt_late").DoAndReturn(
		func(_ context.Context, id string) error {
			delivered <- id
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery after failed poll")
	}
	cancel()
	w.Stop()
}

func TestDeliver_InFlightConflictIsSilent(t *testing.T) {
	w, _, _, delivery := newWorkerForTest(t)

	delivery.EXPECT().Deliver(gomock.Any(), "evt_busy").Return(apperror.ErrDeliveryInFlight())

	// Must not panic or retry; the running attempt owns the outcome.
	w.deliver(context.Background(), "evt_busy")
}
