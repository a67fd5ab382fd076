package queue

import (
	"log/slog"
	"time"
)

// MonitorOption is a functional option for configuring a monitor.
type MonitorOption func(*monitorOptions)

type monitorOptions struct {
	interval   time.Duration
	windowCap  int
	thresholds Thresholds
	logger     *slog.Logger
}

// WithMonitoringInterval sets how often the monitor samples.
func WithMonitoringInterval(d time.Duration) MonitorOption {
	return func(o *monitorOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWindowCapacity sets the sliding window size per metric.
func WithWindowCapacity(n int) MonitorOption {
	return func(o *monitorOptions) {
		if n > 0 {
			o.windowCap = n
		}
	}
}

// WithThresholds sets the initial alerting limits.
func WithThresholds(t Thresholds) MonitorOption {
	return func(o *monitorOptions) {
		if t.QueueSize > 0 {
			o.thresholds.QueueSize = t.QueueSize
		}
		if t.ProcessingTime > 0 {
			o.thresholds.ProcessingTime = t.ProcessingTime
		}
		if t.FailureRate > 0 {
			o.thresholds.FailureRate = t.FailureRate
		}
		if t.DeadLetterRate > 0 {
			o.thresholds.DeadLetterRate = t.DeadLetterRate
		}
	}
}

// WithMonitorLogger sets the logger for the monitor.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(o *monitorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
