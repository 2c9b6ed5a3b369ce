package publisher

import (
	"context"

	"pgmonitor/metric"
)

// Publisher abstracts a remote telemetry backend. One Publisher is
// built at startup and handed to the collection loop.
type Publisher interface {
	// NewBatch starts a fresh outbound batch for one collection cycle.
	NewBatch() Batch
}

// Batch is the outbound set of measurements for one cycle.
type Batch interface {
	// Add queues a single measurement.
	Add(name string, value float64, opts AddOptions)

	// Submit delivers every queued measurement. The batch must not be
	// reused afterwards, whether or not Submit succeeded.
	Submit(ctx context.Context) error

	// Len is the number of queued measurements.
	Len() int
}

// AddOptions carries the per-measurement attributes.
type AddOptions struct {
	Kind   metric.Kind
	Source string
}

// AddPoint queues p on b.
func AddPoint(b Batch, p metric.Point) {
	b.Add(p.Name, p.Value, AddOptions{Kind: p.Kind, Source: p.Source})
}

// Buffer is a reusable in-memory Batch body. Backends embed it and
// only implement Submit.
type Buffer struct {
	Points []metric.Point
}

// Add implements Batch.
func (b *Buffer) Add(name string, value float64, opts AddOptions) {
	b.Points = append(b.Points, metric.Point{
		Name:   name,
		Value:  value,
		Kind:   opts.Kind,
		Source: opts.Source,
	})
}

// Len implements Batch.
func (b *Buffer) Len() int { return len(b.Points) }
