package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestSchedules(t *testing.T) {
	t.Parallel()

	t.Run("every", func(t *testing.T) {
		t.Parallel()

		s := queue.Every(10 * time.Minute)
		from := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, from.Add(10*time.Minute), s.Next(from))
		assert.Equal(t, "every 10m0s", s.String())
	})

	t.Run("hourly", func(t *testing.T) {
		t.Parallel()

		s := queue.HourlyAt(30)
		from := time.Date(2026, 9, 1, 12, 15, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC), s.Next(from))

		// Past this hour's slot rolls into the next hour.
		from = time.Date(2026, 9, 1, 12, 45, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 1, 13, 30, 0, 0, time.UTC), s.Next(from))
	})

	t.Run("daily", func(t *testing.T) {
		t.Parallel()

		s := queue.DailyAt(3, 0)
		from := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 2, 3, 0, 0, 0, time.UTC), s.Next(from))

		from = time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC), s.Next(from))
	})

	t.Run("weekly", func(t *testing.T) {
		t.Parallel()

		s := queue.WeeklyOn(time.Monday, 9, 0)
		// 2026-09-01 is a Tuesday.
		from := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
		next := s.Next(from)
		assert.Equal(t, time.Monday, next.Weekday())
		assert.Equal(t, time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), next)

		// Same weekday after the slot rolls a full week.
		from = time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC), s.Next(from))
	})
}

func TestScheduler_AddJob(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()

	s, err := queue.NewScheduler(storage, queue.WithSchedulerLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, s.AddJob("daily_digest", queue.DailyAt(6, 0)))
	assert.ErrorIs(t, s.AddJob("daily_digest", queue.DailyAt(7, 0)), queue.ErrJobAlreadyRegistered)
	assert.ErrorIs(t, s.AddJob("", queue.DailyAt(6, 0)), queue.ErrJobTypeEmpty)
	assert.ErrorIs(t, s.AddJob("no_schedule", nil), queue.ErrInvalidSchedule)
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()

	_, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrStorageNil)
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("refuses to start with no jobs", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		s, err := queue.NewScheduler(storage, queue.WithSchedulerLogger(discardLogger()))
		require.NoError(t, err)
		assert.ErrorIs(t, s.Start(context.Background()), queue.ErrNoHandlers)
	})

	t.Run("creates one item and never piles up duplicates", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		s, err := queue.NewScheduler(storage,
			queue.WithCheckInterval(10*time.Millisecond),
			queue.WithSchedulerLogger(discardLogger()))
		require.NoError(t, err)

		require.NoError(t, s.AddJob("cleanup", queue.Every(10*time.Millisecond),
			queue.WithJobPayload(json.RawMessage(`{"max_age_hours":24}`)),
			queue.WithJobPriority(queue.PriorityLow),
			queue.WithJobMaxRetries(1),
		))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			_ = s.Start(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool {
			item, err := storage.GetPendingItemByType(context.Background(), "cleanup")
			return err == nil && item != nil
		}, 3*time.Second, 10*time.Millisecond)

		// Several check intervals later the undone instance still blocks
		// a second one.
		time.Sleep(100 * time.Millisecond)
		cancel()
		<-done

		batch, err := storage.FetchBatch(context.Background(), queue.BatchFilter{Status: queue.StatusPending})
		require.NoError(t, err)
		require.Len(t, batch, 1)

		item := batch[0]
		assert.Equal(t, "cleanup", item.Type)
		assert.Equal(t, queue.PriorityLow, item.Priority)
		assert.Equal(t, int8(1), item.MaxRetries)
		assert.JSONEq(t, `{"max_age_hours":24}`, string(item.Payload))
	})
}
