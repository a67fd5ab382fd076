package queue

import "log/slog"

// DeadLetterOption is a functional option for configuring a DeadLetterStore.
type DeadLetterOption func(*deadLetterOptions)

type deadLetterOptions struct {
	allowlist      []string
	maxAutoRetries int8
	markers        []string
	logger         *slog.Logger
}

// WithAutoRetryAllowlist sets the operation types the automatic sweep may retry.
func WithAutoRetryAllowlist(operationTypes ...string) DeadLetterOption {
	return func(o *deadLetterOptions) {
		o.allowlist = operationTypes
	}
}

// WithMaxAutoRetries caps how often the automatic sweep retries one entry.
func WithMaxAutoRetries(n int8) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if n >= 0 {
			o.maxAutoRetries = n
		}
	}
}

// WithRetryableMarkers overrides the error markers that qualify an entry
// for automatic retry.
func WithRetryableMarkers(markers ...string) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if len(markers) > 0 {
			o.markers = markers
		}
	}
}

// WithDeadLetterLogger sets the logger for the dead letter store.
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterOption {
	return func(o *deadLetterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
