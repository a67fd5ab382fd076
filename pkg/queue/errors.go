package queue

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStorageNil is returned when a nil storage is provided
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrRegistryNil is returned when a nil handler registry is provided
	ErrRegistryNil = errors.New("handler registry cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrJobTypeEmpty is returned when an item is enqueued without a job type
	ErrJobTypeEmpty = errors.New("job type cannot be empty")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrHandlerNil is returned when registering a nil handler
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrHandlerExists is returned when a handler name is registered twice
	ErrHandlerExists = errors.New("handler already registered for job type")

	// ErrHandlerNotFound is returned when no handler is registered for a job type
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrNoHandlers is returned when the processor starts with an empty registry
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrItemNotFound is returned when a queue item does not exist
	ErrItemNotFound = errors.New("queue item not found")

	// ErrEntryNotFound is returned when a dead letter entry does not exist
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrEntryResolved is returned when mutating an already resolved entry
	ErrEntryResolved = errors.New("dead letter entry already resolved")

	// ErrEntryRetrying is returned when a retry is requested for an entry
	// that is already being retried
	ErrEntryRetrying = errors.New("dead letter entry retry already in progress")

	// ErrAlreadyRunning is returned when starting a component twice
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned when stopping a component that is not running
	ErrNotRunning = errors.New("not running")

	// ErrInvalidSchedule is returned when a periodic schedule is malformed
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrJobAlreadyRegistered is returned when a periodic job name is reused
	ErrJobAlreadyRegistered = errors.New("periodic job already registered")
)

// ErrorClass partitions failures for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient marks failures worth retrying (timeouts, network,
	// rate limits).
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassPermanent marks failures that retrying cannot fix
	// (validation, authorization, missing handler).
	ErrorClassPermanent ErrorClass = "permanent"
	// ErrorClassExhausted marks transient failures whose retry budget is spent.
	ErrorClassExhausted ErrorClass = "exhausted"
	// ErrorClassOperator marks explicit manual failure decisions.
	ErrorClassOperator ErrorClass = "operator"
)

// ClassifiedError carries an explicit error class so handlers can signal how
// a failure should be treated instead of relying on message matching.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewTransientError wraps err as an explicitly retryable failure.
func NewTransientError(err error) error {
	return &ClassifiedError{Class: ErrorClassTransient, Err: err}
}

// NewPermanentError wraps err as a failure that must never be retried.
func NewPermanentError(err error) error {
	return &ClassifiedError{Class: ErrorClassPermanent, Err: err}
}
