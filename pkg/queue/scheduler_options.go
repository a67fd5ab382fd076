package queue

import (
	"encoding/json"
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// WithCheckInterval sets how often the scheduler checks for due jobs.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// PeriodicJobOption is a functional option for a registered periodic job.
type PeriodicJobOption func(*periodicJobOptions)

type periodicJobOptions struct {
	payload    json.RawMessage
	priority   Priority
	maxRetries int8
}

// WithJobPayload sets a static payload delivered with every instance.
func WithJobPayload(payload json.RawMessage) PeriodicJobOption {
	return func(o *periodicJobOptions) {
		o.payload = payload
	}
}

// WithJobPriority sets the priority for the periodic job's items.
func WithJobPriority(priority Priority) PeriodicJobOption {
	return func(o *periodicJobOptions) {
		if priority.Valid() {
			o.priority = priority
		}
	}
}

// WithJobMaxRetries sets the retry budget for the periodic job's items (0-10).
func WithJobMaxRetries(maxRetries int8) PeriodicJobOption {
	return func(o *periodicJobOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}
