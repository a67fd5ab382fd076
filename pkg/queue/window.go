package queue

import (
	"sync"
	"time"
)

// MetricPoint is a single timestamped metric sample.
type MetricPoint struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// metricWindow is a fixed-capacity sliding window of metric samples.
// The oldest point is evicted first so memory stays bounded regardless of
// how long the monitor runs.
type metricWindow struct {
	mu     sync.RWMutex
	points []MetricPoint
	cap    int
}

func newMetricWindow(capacity int) *metricWindow {
	if capacity <= 0 {
		capacity = 100
	}
	return &metricWindow{
		points: make([]MetricPoint, 0, capacity),
		cap:    capacity,
	}
}

func (w *metricWindow) Append(p MetricPoint) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.points) == w.cap {
		copy(w.points, w.points[1:])
		w.points = w.points[:w.cap-1]
	}
	w.points = append(w.points, p)
}

func (w *metricWindow) Points() []MetricPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]MetricPoint, len(w.points))
	copy(out, w.points)
	return out
}

func (w *metricWindow) Latest() (MetricPoint, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.points) == 0 {
		return MetricPoint{}, false
	}
	return w.points[len(w.points)-1], true
}

// Trend compares the mean of the newer half of the window against the older
// half. Returns the relative change, or 0 when there is not enough data.
func (w *metricWindow) Trend() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(w.points)
	if n < 4 {
		return 0
	}

	mid := n / 2
	var older, newer float64
	for i, p := range w.points {
		if i < mid {
			older += p.Value
		} else {
			newer += p.Value
		}
	}
	older /= float64(mid)
	newer /= float64(n - mid)

	if older == 0 {
		if newer == 0 {
			return 0
		}
		return 1
	}
	return (newer - older) / older
}
