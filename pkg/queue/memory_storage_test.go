package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func newItem(jobType string, priority queue.Priority) *queue.Item {
	now := time.Now()
	return &queue.Item{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     json.RawMessage(`{}`),
		Status:      queue.StatusPending,
		Priority:    priority,
		ScheduledAt: now,
		MaxRetries:  3,
		CreatedAt:   now,
	}
}

func TestMemoryStorage_FetchBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("orders by priority desc then created asc", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		for _, p := range []queue.Priority{10, 90, 50} {
			require.NoError(t, storage.CreateItem(ctx, newItem("job", p)))
		}

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Status: queue.StatusPending, Limit: 10})
		require.NoError(t, err)
		require.Len(t, batch, 3)
		assert.Equal(t, queue.Priority(90), batch[0].Priority)
		assert.Equal(t, queue.Priority(50), batch[1].Priority)
		assert.Equal(t, queue.Priority(10), batch[2].Priority)
	})

	t.Run("equal priority keeps insertion order", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		first := newItem("job", 50)
		second := newItem("job", 50)
		second.CreatedAt = first.CreatedAt.Add(time.Millisecond)
		require.NoError(t, storage.CreateItem(ctx, first))
		require.NoError(t, storage.CreateItem(ctx, second))

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, first.ID, batch[0].ID)
		assert.Equal(t, second.ID, batch[1].ID)
	})

	t.Run("skips items scheduled in the future", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		future := newItem("job", 50)
		future.ScheduledAt = time.Now().Add(time.Hour)
		require.NoError(t, storage.CreateItem(ctx, future))
		require.NoError(t, storage.CreateItem(ctx, newItem("job", 50)))

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, batch, 1)
	})

	t.Run("excludes paused items from the pending batch", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		paused := newItem("job", 90)
		paused.Status = queue.StatusPaused
		require.NoError(t, storage.CreateItem(ctx, paused))
		require.NoError(t, storage.CreateItem(ctx, newItem("job", 50)))

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Status: queue.StatusPending, Limit: 10})
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, queue.Priority(50), batch[0].Priority)
	})

	t.Run("respects limit", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		for range 5 {
			require.NoError(t, storage.CreateItem(ctx, newItem("job", 50)))
		}

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, batch, 2)
	})

	t.Run("filters by user", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		userID := uuid.New()
		mine := newItem("job", 50)
		mine.UserID = &userID
		require.NoError(t, storage.CreateItem(ctx, mine))
		require.NoError(t, storage.CreateItem(ctx, newItem("job", 50)))

		batch, err := storage.FetchBatch(ctx, queue.BatchFilter{Limit: 10, UserID: &userID})
		require.NoError(t, err)
		require.Len(t, batch, 1)
		assert.Equal(t, mine.ID, batch[0].ID)
	})
}

func TestMemoryStorage_ClaimItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("claim transitions to processing", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		item := newItem("job", 50)
		require.NoError(t, storage.CreateItem(ctx, item))

		workerID := uuid.New()
		claimed, err := storage.ClaimItem(ctx, item.ID, workerID, time.Minute)
		require.NoError(t, err)
		require.True(t, claimed)

		got, err := storage.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, got.Status)
		require.NotNil(t, got.LockedBy)
		assert.Equal(t, workerID, *got.LockedBy)
		assert.NotNil(t, got.LockedUntil)
		assert.NotNil(t, got.ProcessingStartedAt)
	})

	t.Run("exactly one concurrent claimer wins", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		item := newItem("job", 50)
		require.NoError(t, storage.CreateItem(ctx, item))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := storage.ClaimItem(ctx, item.ID, uuid.New(), time.Minute)
				assert.NoError(t, err)
				if claimed {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("unknown item returns error", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		_, err := storage.ClaimItem(ctx, uuid.New(), uuid.New(), time.Minute)
		assert.ErrorIs(t, err, queue.ErrItemNotFound)
	})
}

func TestMemoryStorage_LockExpiration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	item := newItem("job", 50)
	item.RetryCount = 2
	require.NoError(t, storage.CreateItem(ctx, item))

	claimed, err := storage.ClaimItem(ctx, item.ID, uuid.New(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	// The expiration sweep runs every second; the expired claim must be
	// released with retry history intact.
	require.Eventually(t, func() bool {
		got, err := storage.GetItem(ctx, item.ID)
		return err == nil && got.Status == queue.StatusPending
	}, 3*time.Second, 50*time.Millisecond)

	got, err := storage.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)
	assert.Equal(t, int8(2), got.RetryCount)
}

func TestMemoryStorage_UpdateItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	item := newItem("job", 50)
	require.NoError(t, storage.CreateItem(ctx, item))

	claimed, err := storage.ClaimItem(ctx, item.ID, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	completed := queue.StatusCompleted
	now := time.Now()
	require.NoError(t, storage.UpdateItem(ctx, item.ID, queue.ItemUpdate{
		Status:                &completed,
		Result:                json.RawMessage(`{"ok":true}`),
		ProcessingCompletedAt: &now,
		ClearLock:             true,
	}))

	got, err := storage.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)

	assert.ErrorIs(t, storage.UpdateItem(ctx, uuid.New(), queue.ItemUpdate{}), queue.ErrItemNotFound)
}

func TestMemoryStorage_GetPendingItemByType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	got, err := storage.GetPendingItemByType(ctx, "digest")
	require.NoError(t, err)
	assert.Nil(t, got)

	item := newItem("digest", 50)
	require.NoError(t, storage.CreateItem(ctx, item))

	got, err = storage.GetPendingItemByType(ctx, "digest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.ID, got.ID)

	// A claimed item still counts as an undone instance.
	claimed, err := storage.ClaimItem(ctx, item.ID, uuid.New(), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err = storage.GetPendingItemByType(ctx, "digest")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStorage_AggregateStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	require.NoError(t, storage.CreateItem(ctx, newItem("a", 10)))
	require.NoError(t, storage.CreateItem(ctx, newItem("b", 50)))
	require.NoError(t, storage.CreateItem(ctx, newItem("c", 90)))

	done := newItem("d", 50)
	started := time.Now().Add(-2 * time.Second)
	finished := started.Add(time.Second)
	done.Status = queue.StatusCompleted
	done.ProcessingStartedAt = &started
	done.ProcessingCompletedAt = &finished
	require.NoError(t, storage.CreateItem(ctx, done))

	stats, err := storage.AggregateStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.ByStatus[queue.StatusPending])
	assert.Equal(t, int64(1), stats.ByStatus[queue.StatusCompleted])
	assert.Equal(t, int64(1), stats.ByPriorityBand["low"])
	assert.Equal(t, int64(2), stats.ByPriorityBand["medium"])
	assert.Equal(t, int64(1), stats.ByPriorityBand["high"])
	assert.Equal(t, time.Second, stats.AvgProcessingTime)
	assert.Greater(t, stats.OldestPendingAge, time.Duration(0))
}

func TestMemoryStorage_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	old := newItem("a", 50)
	old.Status = queue.StatusCompleted
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.CreateItem(ctx, old))

	oldPending := newItem("b", 50)
	oldPending.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.CreateItem(ctx, oldPending))

	require.NoError(t, storage.CreateItem(ctx, newItem("c", 50)))

	removed, err := storage.DeleteOlderThan(ctx, 24*time.Hour, []queue.Status{queue.StatusCompleted, queue.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Pending items are never swept regardless of age.
	_, err = storage.GetItem(ctx, oldPending.ID)
	assert.NoError(t, err)
	_, err = storage.GetItem(ctx, old.ID)
	assert.ErrorIs(t, err, queue.ErrItemNotFound)
}

func TestMemoryStorage_DeadLetterEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	newEntry := func(opType string, status queue.DeadLetterStatus) *queue.DeadLetterEntry {
		return &queue.DeadLetterEntry{
			ID:            uuid.New(),
			ItemID:        uuid.New(),
			OperationType: opType,
			ErrorMessage:  "boom",
			ErrorClass:    queue.ErrorClassPermanent,
			ErrorCount:    1,
			Priority:      50,
			Status:        status,
			CreatedAt:     time.Now(),
		}
	}

	t.Run("crud roundtrip", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		entry := newEntry("send_email", queue.DeadLetterPendingReview)
		require.NoError(t, storage.AddEntry(ctx, entry))

		got, err := storage.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.OperationType, got.OperationType)

		require.NoError(t, storage.DeleteEntry(ctx, entry.ID))
		_, err = storage.GetEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, queue.ErrEntryNotFound)
	})

	t.Run("list filters and orders newest first", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		older := newEntry("send_email", queue.DeadLetterPendingReview)
		older.CreatedAt = time.Now().Add(-time.Hour)
		require.NoError(t, storage.AddEntry(ctx, older))
		require.NoError(t, storage.AddEntry(ctx, newEntry("send_email", queue.DeadLetterPendingReview)))
		require.NoError(t, storage.AddEntry(ctx, newEntry("webhook", queue.DeadLetterResolved)))

		entries, err := storage.ListEntries(ctx, queue.DeadLetterFilter{OperationType: "send_email"})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))

		entries, err = storage.ListEntries(ctx, queue.DeadLetterFilter{Status: queue.DeadLetterResolved})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("resolved entries are immutable except notes", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		entry := newEntry("send_email", queue.DeadLetterResolved)
		require.NoError(t, storage.AddEntry(ctx, entry))

		failed := queue.DeadLetterFailed
		notes := "post-mortem link"
		require.NoError(t, storage.UpdateEntry(ctx, entry.ID, queue.DeadLetterUpdate{
			Status:          &failed,
			ResolutionNotes: &notes,
		}))

		got, err := storage.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.DeadLetterResolved, got.Status)
		assert.Equal(t, notes, got.ResolutionNotes)
	})

	t.Run("error message update bumps error count", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		entry := newEntry("send_email", queue.DeadLetterPendingReview)
		require.NoError(t, storage.AddEntry(ctx, entry))

		msg := "still failing"
		require.NoError(t, storage.UpdateEntry(ctx, entry.ID, queue.DeadLetterUpdate{ErrorMessage: &msg}))

		got, err := storage.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ErrorCount)
		assert.Equal(t, msg, got.ErrorMessage)
	})

	t.Run("aggregates stats", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		require.NoError(t, storage.AddEntry(ctx, newEntry("send_email", queue.DeadLetterPendingReview)))
		require.NoError(t, storage.AddEntry(ctx, newEntry("send_email", queue.DeadLetterResolved)))
		require.NoError(t, storage.AddEntry(ctx, newEntry("webhook", queue.DeadLetterPendingReview)))

		stats, err := storage.EntryStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(2), stats.ByStatus[queue.DeadLetterPendingReview])
		assert.Equal(t, int64(2), stats.ByOperationType["send_email"])
		assert.Equal(t, int64(3), stats.ByPriorityBand["medium"])
		assert.NotNil(t, stats.OldestEntry)
		assert.NotNil(t, stats.NewestEntry)
	})
}
