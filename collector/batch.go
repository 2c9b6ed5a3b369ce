package collector

import (
	"sync"
	"time"

	"pgmonitor/metric"
)

// Accumulator collects the points of a single collection cycle.
// It only supports appending; insertion order is preserved. Safe for
// concurrent use.
type Accumulator struct {
	StartedAt time.Time // when the cycle started

	mu     sync.Mutex
	points []metric.Point
}

// NewAccumulator creates an empty accumulator for a cycle started at ts.
func NewAccumulator(ts time.Time) *Accumulator {
	return &Accumulator{StartedAt: ts}
}

// Add appends points in order.
func (a *Accumulator) Add(points ...metric.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.points = append(a.points, points...)
}

// Points returns a copy of everything added so far.
func (a *Accumulator) Points() []metric.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]metric.Point(nil), a.points...)
}

// Len is the number of points added so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.points)
}
