package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricWindow_Append(t *testing.T) {
	t.Parallel()

	t.Run("evicts oldest at capacity", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(3)
		now := time.Now()
		for i := range 5 {
			w.Append(MetricPoint{At: now, Value: float64(i)})
		}

		points := w.Points()
		require.Len(t, points, 3)
		assert.Equal(t, 2.0, points[0].Value)
		assert.Equal(t, 4.0, points[2].Value)
	})

	t.Run("zero capacity falls back to default", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(0)
		for i := range 150 {
			w.Append(MetricPoint{Value: float64(i)})
		}
		assert.Len(t, w.Points(), 100)
	})
}

func TestMetricWindow_Latest(t *testing.T) {
	t.Parallel()

	w := newMetricWindow(10)

	_, ok := w.Latest()
	assert.False(t, ok)

	w.Append(MetricPoint{Value: 1})
	w.Append(MetricPoint{Value: 7})

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 7.0, latest.Value)
}

func TestMetricWindow_Trend(t *testing.T) {
	t.Parallel()

	t.Run("needs at least four points", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(10)
		w.Append(MetricPoint{Value: 1})
		w.Append(MetricPoint{Value: 2})
		w.Append(MetricPoint{Value: 3})
		assert.Zero(t, w.Trend())
	})

	t.Run("reports relative growth", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(10)
		for _, v := range []float64{1, 1, 2, 2} {
			w.Append(MetricPoint{Value: v})
		}
		assert.InDelta(t, 1.0, w.Trend(), 0.001)
	})

	t.Run("flat series has zero trend", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(10)
		for range 6 {
			w.Append(MetricPoint{Value: 5})
		}
		assert.Zero(t, w.Trend())
	})

	t.Run("growth from zero baseline is capped at one", func(t *testing.T) {
		t.Parallel()

		w := newMetricWindow(10)
		for _, v := range []float64{0, 0, 3, 5} {
			w.Append(MetricPoint{Value: v})
		}
		assert.Equal(t, 1.0, w.Trend())
	})
}
