package queue

import (
	"log/slog"
	"time"
)

// ProcessorOption is a functional option for configuring a processor.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	batchSize       int
	maxWorkers      int
	interval        time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	policy          *RetryPolicy
	logger          *slog.Logger
}

// WithBatchSize sets how many eligible items one pass fetches.
func WithBatchSize(n int) ProcessorOption {
	return func(o *processorOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithMaxWorkers bounds how many items execute concurrently.
func WithMaxWorkers(n int) ProcessorOption {
	return func(o *processorOptions) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithProcessingInterval sets how often the processor fetches a new batch.
func WithProcessingInterval(d time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithLockTimeout sets the claim lock duration, which also bounds a single
// handler invocation.
func WithLockTimeout(d time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight workers.
func WithShutdownTimeout(d time.Duration) ProcessorOption {
	return func(o *processorOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithRetryPolicy sets the retry decision function.
func WithRetryPolicy(policy *RetryPolicy) ProcessorOption {
	return func(o *processorOptions) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithProcessorLogger sets the logger for the processor.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(o *processorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
