package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert types raised by the monitor.
const (
	AlertQueueSizeHigh      = "queue_size_high"
	AlertProcessingTimeHigh = "processing_time_high"
	AlertFailureRateHigh    = "failure_rate_high"
	AlertDeadLetterRateHigh = "dead_letter_rate_high"
	AlertProcessorDown      = "processor_down"
)

// Health statuses derived from the health score.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Alert is a threshold breach record.
type Alert struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// Thresholds hold the alerting limits evaluated on every sample.
type Thresholds struct {
	QueueSize      int64         `json:"queue_size"`
	ProcessingTime time.Duration `json:"processing_time"`
	FailureRate    float64       `json:"failure_rate"`
	DeadLetterRate float64       `json:"dead_letter_rate"`
}

// ThresholdUpdate is a partial update to the alerting limits.
type ThresholdUpdate struct {
	QueueSize      *int64         `json:"queue_size,omitempty"`
	ProcessingTime *time.Duration `json:"processing_time,omitempty"`
	FailureRate    *float64       `json:"failure_rate,omitempty"`
	DeadLetterRate *float64       `json:"dead_letter_rate,omitempty"`
}

// CurrentMetrics is the latest sampled view of the subsystem.
type CurrentMetrics struct {
	QueueSize         int64         `json:"queue_size"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	FailureRate       float64       `json:"failure_rate"`
	Throughput        float64       `json:"throughput"`
	DeadLetterCount   int64         `json:"dead_letter_count"`
	ActiveWorkers     int32         `json:"active_workers"`
	Processing        bool          `json:"processing"`
}

// Dashboard is the read-only operator snapshot.
type Dashboard struct {
	HealthScore int                `json:"health_score"`
	Status      string             `json:"status"`
	Current     CurrentMetrics     `json:"current"`
	Trends      map[string]float64 `json:"trends"`
	Alerts      []Alert            `json:"alerts"`
}

// processorControl is the narrow view of the processor the monitor needs.
// The monitor never mutates queue items; restarting the processor is its
// only write path.
type processorControl interface {
	Stats() ProcessorStats
	Running() bool
	Restart(ctx context.Context) error
}

// Monitor periodically samples queue, processor and dead letter statistics,
// keeps them in bounded sliding windows, raises deduplicated threshold
// alerts and derives a 0-100 health score. It runs independently from the
// processor and only contends with it on the shared storage.
type Monitor struct {
	store MonitorRepository
	proc  processorControl
	dlq   *DeadLetterStore

	mu         sync.RWMutex
	thresholds Thresholds
	interval   time.Duration
	windows    map[string]*metricWindow
	windowCap  int
	alerts     map[string]Alert // keyed by type + minute bucket
	current    CurrentMetrics
	sampled    bool

	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	intervalCh chan time.Duration
}

// NewMonitor creates a queue monitor.
func NewMonitor(store MonitorRepository, proc processorControl, dlq *DeadLetterStore, opts ...MonitorOption) (*Monitor, error) {
	if store == nil || dlq == nil {
		return nil, ErrStorageNil
	}
	if proc == nil {
		return nil, fmt.Errorf("monitor: processor cannot be nil")
	}

	options := &monitorOptions{
		interval:  30 * time.Second,
		windowCap: 100,
		thresholds: Thresholds{
			QueueSize:      100,
			ProcessingTime: 30 * time.Second,
			FailureRate:    0.1,
			DeadLetterRate: 0.05,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Monitor{
		store:      store,
		proc:       proc,
		dlq:        dlq,
		thresholds: options.thresholds,
		interval:   options.interval,
		windows:    make(map[string]*metricWindow),
		windowCap:  options.windowCap,
		alerts:     make(map[string]Alert),
		logger:     options.logger,
		intervalCh: make(chan time.Duration, 1),
	}, nil
}

// Start begins the sampling loop. The first sample is taken immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor: %w", ErrAlreadyRunning)
	}

	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("queue monitor started",
		slog.Duration("interval", m.Interval()))
	return nil
}

// Stop stops the sampling loop and waits for the in-flight sample.
func (m *Monitor) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return fmt.Errorf("monitor: %w", ErrNotRunning)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("queue monitor stopped")
	return nil
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	if err := m.Sample(ctx); err != nil {
		m.logger.Error("monitor sample failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			if err := m.Sample(ctx); err != nil {
				// Skipped, not retried synchronously: the next interval
				// will resample.
				m.logger.Error("monitor sample failed", slog.Any("error", err))
			}
		}
	}
}

// Sample takes one monitoring pass: collect statistics, record metric
// points, evaluate alerts and attempt a processor restart when it is down
// with pending work.
func (m *Monitor) Sample(ctx context.Context) error {
	stats, err := m.store.AggregateStats(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to sample queue stats: %w", err)
	}
	dlqStats, err := m.dlq.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to sample dead letter stats: %w", err)
	}
	procStats := m.proc.Stats()

	queueSize := stats.ByStatus[StatusPending] + stats.ByStatus[StatusProcessing]

	var failureRate float64
	if stats.Total > 0 {
		failureRate = float64(stats.ByStatus[StatusFailed]) / float64(stats.Total)
	}

	var throughput float64
	if up := procStats.Uptime.Seconds(); up > 0 {
		throughput = float64(procStats.Processed) / up
	}

	current := CurrentMetrics{
		QueueSize:         queueSize,
		AvgProcessingTime: stats.AvgProcessingTime,
		FailureRate:       failureRate,
		Throughput:        throughput,
		DeadLetterCount:   dlqStats.Total,
		ActiveWorkers:     procStats.ActiveWorkers,
		Processing:        procStats.Running,
	}

	now := time.Now()
	m.record("queue_size", float64(queueSize), now)
	m.record("avg_processing_time_ms", float64(stats.AvgProcessingTime.Milliseconds()), now)
	m.record("failure_rate", failureRate, now)
	m.record("throughput", throughput, now)
	m.record("dead_letter_count", float64(dlqStats.Total), now)
	m.record("active_workers", float64(procStats.ActiveWorkers), now)

	m.mu.Lock()
	m.current = current
	m.sampled = true
	m.mu.Unlock()

	m.evaluate(ctx, current, now)
	return nil
}

func (m *Monitor) record(name string, value float64, at time.Time) {
	m.mu.Lock()
	w, ok := m.windows[name]
	if !ok {
		w = newMetricWindow(m.windowCap)
		m.windows[name] = w
	}
	m.mu.Unlock()

	w.Append(MetricPoint{At: at, Value: value})
}

// evaluate checks every alert threshold independently and fires
// deduplicated alerts. Dead-letter rate intentionally divides by the
// current queue size (clamped to 1), reproducing the upstream behaviour.
func (m *Monitor) evaluate(ctx context.Context, current CurrentMetrics, now time.Time) {
	t := m.CurrentThresholds()

	if current.QueueSize > t.QueueSize {
		m.fire(Alert{
			Type:      AlertQueueSizeHigh,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("queue size %d exceeds threshold %d", current.QueueSize, t.QueueSize),
			Value:     float64(current.QueueSize),
			Threshold: float64(t.QueueSize),
			At:        now,
		})
	}

	if current.AvgProcessingTime > t.ProcessingTime {
		m.fire(Alert{
			Type:      AlertProcessingTimeHigh,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("average processing time %s exceeds threshold %s", current.AvgProcessingTime, t.ProcessingTime),
			Value:     float64(current.AvgProcessingTime.Milliseconds()),
			Threshold: float64(t.ProcessingTime.Milliseconds()),
			At:        now,
		})
	}

	if current.FailureRate > t.FailureRate {
		m.fire(Alert{
			Type:      AlertFailureRateHigh,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("failure rate %.2f exceeds threshold %.2f", current.FailureRate, t.FailureRate),
			Value:     current.FailureRate,
			Threshold: t.FailureRate,
			At:        now,
		})
	}

	denom := current.QueueSize
	if denom < 1 {
		denom = 1
	}
	dlRate := float64(current.DeadLetterCount) / float64(denom)
	if dlRate > t.DeadLetterRate {
		m.fire(Alert{
			Type:      AlertDeadLetterRateHigh,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("dead letter rate %.2f exceeds threshold %.2f", dlRate, t.DeadLetterRate),
			Value:     dlRate,
			Threshold: t.DeadLetterRate,
			At:        now,
		})
	}

	if !current.Processing && current.QueueSize > 0 {
		m.fire(Alert{
			Type:      AlertProcessorDown,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("processor is not running with %d items queued", current.QueueSize),
			Value:     float64(current.QueueSize),
			At:        now,
		})

		m.logger.Warn("processor down with pending work, attempting restart")
		if err := m.proc.Restart(ctx); err != nil {
			m.logger.Error("automatic processor restart failed", slog.Any("error", err))
		}
	}
}

// fire records an alert unless the same type already fired within the same
// wall-clock minute. Alerts older than one hour are purged on every call.
func (m *Monitor) fire(alert Alert) {
	key := fmt.Sprintf("%s:%d", alert.Type, alert.At.Unix()/60)

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := alert.At.Add(-time.Hour)
	for k, a := range m.alerts {
		if a.At.Before(cutoff) {
			delete(m.alerts, k)
		}
	}

	if _, dup := m.alerts[key]; dup {
		return
	}
	m.alerts[key] = alert

	m.logger.Warn("queue alert",
		slog.String("type", alert.Type),
		slog.String("severity", string(alert.Severity)),
		slog.String("message", alert.Message))
}

// Alerts returns the alerts fired within the retention window, newest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-time.Hour)
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.At.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// HealthScore derives a 0-100 score from the latest sample: proportional
// penalties per breached threshold (queue size up to 30, failure rate up to
// 40, processing time up to 20) and a flat 50 when the processor is down
// with queued work.
func (m *Monitor) HealthScore() int {
	m.mu.RLock()
	current := m.current
	sampled := m.sampled
	t := m.thresholds
	m.mu.RUnlock()

	if !sampled {
		return 100
	}

	score := 100.0
	score -= proportionalPenalty(float64(current.QueueSize), float64(t.QueueSize), 30)
	score -= proportionalPenalty(current.FailureRate, t.FailureRate, 40)
	score -= proportionalPenalty(float64(current.AvgProcessingTime), float64(t.ProcessingTime), 20)
	if !current.Processing && current.QueueSize > 0 {
		score -= 50
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// proportionalPenalty scales the penalty with the relative overshoot,
// capped at max.
func proportionalPenalty(value, threshold, max float64) float64 {
	if threshold <= 0 || value <= threshold {
		return 0
	}
	penalty := max * (value - threshold) / threshold
	if penalty > max {
		penalty = max
	}
	return penalty
}

// HealthStatus maps the health score onto a coarse status.
func (m *Monitor) HealthStatus() string {
	return healthStatus(m.HealthScore())
}

func healthStatus(score int) string {
	switch {
	case score >= 90:
		return HealthHealthy
	case score >= 70:
		return HealthWarning
	case score >= 50:
		return HealthDegraded
	default:
		return HealthCritical
	}
}

// Snapshot returns the operator dashboard view.
func (m *Monitor) Snapshot() Dashboard {
	m.mu.RLock()
	current := m.current
	trends := make(map[string]float64, len(m.windows))
	for name, w := range m.windows {
		trends[name] = w.Trend()
	}
	m.mu.RUnlock()

	score := m.HealthScore()
	return Dashboard{
		HealthScore: score,
		Status:      healthStatus(score),
		Current:     current,
		Trends:      trends,
		Alerts:      m.Alerts(),
	}
}

// Window returns the recorded points for one metric name.
func (m *Monitor) Window(name string) []MetricPoint {
	m.mu.RLock()
	w, ok := m.windows[name]
	m.mu.RUnlock()

	if !ok {
		return nil
	}
	return w.Points()
}

// CurrentThresholds returns the active alerting limits.
func (m *Monitor) CurrentThresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// UpdateThresholds applies a partial thresholds update.
func (m *Monitor) UpdateThresholds(update ThresholdUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if update.QueueSize != nil && *update.QueueSize > 0 {
		m.thresholds.QueueSize = *update.QueueSize
	}
	if update.ProcessingTime != nil && *update.ProcessingTime > 0 {
		m.thresholds.ProcessingTime = *update.ProcessingTime
	}
	if update.FailureRate != nil && *update.FailureRate > 0 {
		m.thresholds.FailureRate = *update.FailureRate
	}
	if update.DeadLetterRate != nil && *update.DeadLetterRate > 0 {
		m.thresholds.DeadLetterRate = *update.DeadLetterRate
	}
}

// Interval returns the active sampling interval.
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// UpdateInterval changes the sampling interval; a running loop picks the
// new interval up without restarting.
func (m *Monitor) UpdateInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()

	if m.running.Load() {
		select {
		case m.intervalCh <- d:
		default:
		}
	}
}
