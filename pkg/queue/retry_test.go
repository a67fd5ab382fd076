package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	t.Parallel()

	policy := queue.NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 30*time.Second, policy.BaseDelay)
	assert.Equal(t, 30*time.Minute, policy.MaxDelay)
	assert.Equal(t, 2.0, policy.Multiplier)
	assert.NotEmpty(t, policy.RetryableMarkers)
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	policy := queue.NewRetryPolicy(time.Second, time.Minute, 2)

	t.Run("grows exponentially", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, time.Second, policy.Delay(1))
		assert.Equal(t, 2*time.Second, policy.Delay(2))
		assert.Equal(t, 4*time.Second, policy.Delay(3))
		assert.Equal(t, 8*time.Second, policy.Delay(4))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, time.Minute, policy.Delay(10))
		assert.Equal(t, time.Minute, policy.Delay(100))
	})

	t.Run("normalizes attempts below one", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, policy.Delay(1), policy.Delay(0))
		assert.Equal(t, policy.Delay(1), policy.Delay(-5))
	})
}

func TestRetryPolicy_Classify(t *testing.T) {
	t.Parallel()

	policy := queue.NewRetryPolicy(0, 0, 0)

	t.Run("explicit classification wins", func(t *testing.T) {
		t.Parallel()

		err := queue.NewTransientError(errors.New("anything at all"))
		assert.Equal(t, queue.ErrorClassTransient, policy.Classify(err))

		err = queue.NewPermanentError(errors.New("timeout")) // marker would say transient
		assert.Equal(t, queue.ErrorClassPermanent, policy.Classify(err))
	})

	t.Run("missing handler is permanent", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.ErrorClassPermanent, policy.Classify(queue.ErrHandlerNotFound))
	})

	t.Run("context deadline is transient", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.ErrorClassTransient, policy.Classify(context.DeadlineExceeded))
	})

	t.Run("retryable markers match case-insensitively", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.ErrorClassTransient, policy.Classify(errors.New("upstream Timeout while sending")))
		assert.Equal(t, queue.ErrorClassTransient, policy.Classify(errors.New("dial tcp: connection refused")))
		assert.Equal(t, queue.ErrorClassTransient, policy.Classify(errors.New("429 Too Many Requests")))
	})

	t.Run("permanent markers override retryable ones", func(t *testing.T) {
		t.Parallel()

		custom := &queue.RetryPolicy{
			BaseDelay:        time.Second,
			MaxDelay:         time.Minute,
			Multiplier:       2,
			RetryableMarkers: []string{"timeout"},
			PermanentMarkers: []string{"invalid"},
		}
		assert.Equal(t, queue.ErrorClassPermanent, custom.Classify(errors.New("invalid request timeout")))
	})

	t.Run("unknown errors default to permanent", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, queue.ErrorClassPermanent, policy.Classify(errors.New("something odd happened")))
		assert.Equal(t, queue.ErrorClassPermanent, policy.Classify(nil))
	})
}

func TestRetryPolicy_Decide(t *testing.T) {
	t.Parallel()

	policy := queue.NewRetryPolicy(time.Second, time.Minute, 2)

	t.Run("transient error retries with backoff", func(t *testing.T) {
		t.Parallel()

		decision := policy.Decide(2, errors.New("connection reset by peer"))
		require.Equal(t, queue.ActionRetry, decision.Action)
		assert.Equal(t, 2*time.Second, decision.Delay)
	})

	t.Run("permanent error goes to dead letter", func(t *testing.T) {
		t.Parallel()

		decision := policy.Decide(1, errors.New("validation failed"))
		assert.Equal(t, queue.ActionDeadLetter, decision.Action)
		assert.Zero(t, decision.Delay)
	})
}
