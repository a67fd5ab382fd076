package queue

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RetryAction is the outcome of a retry decision.
type RetryAction string

const (
	ActionRetry      RetryAction = "retry"
	ActionDeadLetter RetryAction = "deadletter"
)

// Decision tells the processor what to do with a failed item.
type Decision struct {
	Action RetryAction
	Delay  time.Duration
}

// DefaultRetryableMarkers matches the transient failure modes of typical
// downstream providers (mail APIs, LLM endpoints, webhooks).
var DefaultRetryableMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"network",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
	"internal server error",
}

// RetryPolicy is a pure decision function mapping (attempt, error) to either
// a delayed retry or a dead letter hand-off. It holds no mutable state and is
// safe for concurrent use.
type RetryPolicy struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	RetryableMarkers []string
	PermanentMarkers []string
}

// NewRetryPolicy builds a policy with exponential backoff defaults.
func NewRetryPolicy(base, max time.Duration, multiplier float64) *RetryPolicy {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Minute
	}
	if multiplier < 1 {
		multiplier = 2
	}
	return &RetryPolicy{
		BaseDelay:        base,
		MaxDelay:         max,
		Multiplier:       multiplier,
		RetryableMarkers: DefaultRetryableMarkers,
	}
}

// Classify maps an error onto the retry taxonomy. Explicitly classified
// errors win; otherwise context errors and configured markers decide.
// Unmatched errors are treated as permanent so unknown failure modes surface
// in the dead letter store instead of looping forever.
func (p *RetryPolicy) Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	if errors.Is(err, ErrHandlerNotFound) {
		return ErrorClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range p.PermanentMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return ErrorClassPermanent
		}
	}
	for _, marker := range p.RetryableMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

// Delay computes the backoff delay for a 1-indexed attempt, capped at MaxDelay.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Decide maps a 1-indexed attempt number and the failure onto a retry or a
// dead letter hand-off. The caller is responsible for the retry budget check;
// Decide only rules on the error class and computes the delay.
func (p *RetryPolicy) Decide(attempt int, err error) Decision {
	if p.Classify(err) != ErrorClassTransient {
		return Decision{Action: ActionDeadLetter}
	}
	return Decision{Action: ActionRetry, Delay: p.Delay(attempt)}
}
