package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

type fakeProcessor struct {
	mu       sync.Mutex
	stats    queue.ProcessorStats
	restarts int
}

func (f *fakeProcessor) Stats() queue.ProcessorStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeProcessor) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats.Running
}

func (f *fakeProcessor) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	f.stats.Running = true
	return nil
}

func (f *fakeProcessor) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func newTestMonitor(t *testing.T, storage *queue.MemoryStorage, proc *fakeProcessor, opts ...queue.MonitorOption) *queue.Monitor {
	t.Helper()

	dlq := newDLQ(t, storage)
	opts = append(opts, queue.WithMonitorLogger(discardLogger()))
	m, err := queue.NewMonitor(storage, proc, dlq, opts...)
	require.NoError(t, err)
	return m
}

func addPendingItems(t *testing.T, storage *queue.MemoryStorage, n int) {
	t.Helper()
	ctx := context.Background()
	for range n {
		require.NoError(t, storage.CreateItem(ctx, newItem("job", 50)))
	}
}

func TestNewMonitor(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()
	dlq := newDLQ(t, storage)

	_, err := queue.NewMonitor(nil, &fakeProcessor{}, dlq)
	assert.ErrorIs(t, err, queue.ErrStorageNil)

	_, err = queue.NewMonitor(storage, nil, dlq)
	assert.Error(t, err)
}

func TestMonitor_Sample(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	addPendingItems(t, storage, 3)

	proc := &fakeProcessor{stats: queue.ProcessorStats{
		Running:   true,
		Processed: 10,
		Uptime:    10 * time.Second,
	}}
	m := newTestMonitor(t, storage, proc)

	require.NoError(t, m.Sample(ctx))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Current.QueueSize)
	assert.True(t, snap.Current.Processing)
	assert.InDelta(t, 1.0, snap.Current.Throughput, 0.001)
	assert.Zero(t, snap.Current.FailureRate)

	points := m.Window("queue_size")
	require.Len(t, points, 1)
	assert.Equal(t, 3.0, points[0].Value)

	require.NoError(t, m.Sample(ctx))
	assert.Len(t, m.Window("queue_size"), 2)

	assert.Nil(t, m.Window("unknown_metric"))
}

func TestMonitor_QueueSizeAlertDeduplicated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	addPendingItems(t, storage, 6)

	proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
	m := newTestMonitor(t, storage, proc, queue.WithThresholds(queue.Thresholds{QueueSize: 5}))

	// Two samples in the same minute must produce a single alert.
	require.NoError(t, m.Sample(ctx))
	require.NoError(t, m.Sample(ctx))

	var sizeAlerts []queue.Alert
	for _, a := range m.Alerts() {
		if a.Type == queue.AlertQueueSizeHigh {
			sizeAlerts = append(sizeAlerts, a)
		}
	}
	require.Len(t, sizeAlerts, 1)
	assert.Equal(t, queue.SeverityWarning, sizeAlerts[0].Severity)
	assert.Equal(t, 6.0, sizeAlerts[0].Value)
	assert.Equal(t, 5.0, sizeAlerts[0].Threshold)
}

func TestMonitor_FailureRateAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	failed := newItem("job", 50)
	failed.Status = queue.StatusFailed
	require.NoError(t, storage.CreateItem(ctx, failed))

	proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
	m := newTestMonitor(t, storage, proc)

	require.NoError(t, m.Sample(ctx))

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, queue.AlertFailureRateHigh, alerts[0].Type)
	assert.Equal(t, queue.SeverityCritical, alerts[0].Severity)
	assert.InDelta(t, 1.0, alerts[0].Value, 0.001)
}

func TestMonitor_DeadLetterRateAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	addPendingItems(t, storage, 1)
	dlq := newDLQ(t, storage)
	_, err := dlq.Add(ctx, newDeadEntry("send_email"))
	require.NoError(t, err)

	proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
	m := newTestMonitor(t, storage, proc)

	require.NoError(t, m.Sample(ctx))

	var found bool
	for _, a := range m.Alerts() {
		if a.Type == queue.AlertDeadLetterRateHigh {
			found = true
			assert.InDelta(t, 1.0, a.Value, 0.001)
		}
	}
	assert.True(t, found)
}

func TestMonitor_ProcessorDownTriggersRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	addPendingItems(t, storage, 1)

	proc := &fakeProcessor{}
	m := newTestMonitor(t, storage, proc)

	require.NoError(t, m.Sample(ctx))

	var found bool
	for _, a := range m.Alerts() {
		if a.Type == queue.AlertProcessorDown {
			found = true
			assert.Equal(t, queue.SeverityCritical, a.Severity)
		}
	}
	assert.True(t, found)
	assert.Equal(t, 1, proc.restartCount())
}

func TestMonitor_ProcessorDownWithEmptyQueueIsQuiet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	proc := &fakeProcessor{}
	m := newTestMonitor(t, storage, proc)

	require.NoError(t, m.Sample(ctx))
	assert.Empty(t, m.Alerts())
	assert.Zero(t, proc.restartCount())
}

func TestMonitor_HealthScore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("perfect before first sample", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		m := newTestMonitor(t, storage, &fakeProcessor{})
		assert.Equal(t, 100, m.HealthScore())
		assert.Equal(t, queue.HealthHealthy, m.HealthStatus())
	})

	t.Run("queue overshoot penalizes proportionally", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		addPendingItems(t, storage, 20)
		proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
		m := newTestMonitor(t, storage, proc, queue.WithThresholds(queue.Thresholds{QueueSize: 10}))

		require.NoError(t, m.Sample(ctx))
		assert.Equal(t, 70, m.HealthScore())
		assert.Equal(t, queue.HealthWarning, m.HealthStatus())
	})

	t.Run("stalled processor with backlog is critical", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		addPendingItems(t, storage, 20)
		m := newTestMonitor(t, storage, &fakeProcessor{}, queue.WithThresholds(queue.Thresholds{QueueSize: 10}))

		require.NoError(t, m.Sample(ctx))
		assert.Equal(t, 20, m.HealthScore())
		assert.Equal(t, queue.HealthCritical, m.HealthStatus())
	})

	t.Run("healthy system stays at full score", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		defer storage.Close()

		addPendingItems(t, storage, 2)
		proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
		m := newTestMonitor(t, storage, proc)

		require.NoError(t, m.Sample(ctx))
		assert.Equal(t, 100, m.HealthScore())
	})
}

func TestMonitor_Thresholds(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()
	m := newTestMonitor(t, storage, &fakeProcessor{})

	defaults := m.CurrentThresholds()
	assert.Equal(t, int64(100), defaults.QueueSize)
	assert.Equal(t, 30*time.Second, defaults.ProcessingTime)

	size := int64(42)
	bad := -0.5
	m.UpdateThresholds(queue.ThresholdUpdate{
		QueueSize:   &size,
		FailureRate: &bad,
	})

	updated := m.CurrentThresholds()
	assert.Equal(t, int64(42), updated.QueueSize)
	assert.Equal(t, defaults.FailureRate, updated.FailureRate)
	assert.Equal(t, defaults.ProcessingTime, updated.ProcessingTime)
}

func TestMonitor_Interval(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	defer storage.Close()
	m := newTestMonitor(t, storage, &fakeProcessor{}, queue.WithMonitoringInterval(time.Second))

	assert.Equal(t, time.Second, m.Interval())

	m.UpdateInterval(5 * time.Second)
	assert.Equal(t, 5*time.Second, m.Interval())

	m.UpdateInterval(0)
	assert.Equal(t, 5*time.Second, m.Interval())
}

func TestMonitor_StartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
	m := newTestMonitor(t, storage, proc, queue.WithMonitoringInterval(10*time.Millisecond))

	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), queue.ErrAlreadyRunning)
	assert.True(t, m.Running())

	require.Eventually(t, func() bool {
		return len(m.Window("queue_size")) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), queue.ErrNotRunning)
	assert.False(t, m.Running())
}

func TestMonitor_SnapshotTrends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	defer storage.Close()

	proc := &fakeProcessor{stats: queue.ProcessorStats{Running: true}}
	m := newTestMonitor(t, storage, proc)

	// Grow the queue between samples so the window shows an upward trend.
	for range 2 {
		require.NoError(t, m.Sample(ctx))
	}
	addPendingItems(t, storage, 10)
	for range 2 {
		require.NoError(t, m.Sample(ctx))
	}

	snap := m.Snapshot()
	assert.Greater(t, snap.Trends["queue_size"], 0.0)
	assert.Equal(t, queue.HealthHealthy, snap.Status)
}
