package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes one unit of work. Implementations must be
	// idempotent-safe under at-least-once claim semantics and signal
	// failure by returning a classified error, never a sentinel result.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	}

	// JobHandlerFunc is the typed business function a handler wraps.
	JobHandlerFunc[T any] func(ctx context.Context, payload T) (any, error)
)

// NewHandler wraps a typed function into a Handler for the given job type.
// The payload is decoded into T before the call and the returned value is
// marshaled back as the stored result.
func NewHandler[T any](jobType string, fn JobHandlerFunc[T]) Handler {
	return &typedHandler[T]{name: jobType, fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   JobHandlerFunc[T]
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, NewPermanentError(fmt.Errorf("failed to decode payload for %q: %w", h.name, err))
		}
	}

	result, err := h.fn(ctx, t)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, NewPermanentError(fmt.Errorf("failed to marshal result of %q: %w", h.name, err))
	}
	return out, nil
}
