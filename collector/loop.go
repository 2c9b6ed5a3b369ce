package collector

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pgmonitor/clock"
	"pgmonitor/config"
	"pgmonitor/metric"
	"pgmonitor/publisher"
)

// TargetCollector produces the points of one database. Failures are
// handled inside; SourceCollector is the production implementation.
type TargetCollector interface {
	Collect(ctx context.Context, db config.Database) []metric.Point
}

// Loop drives collection cycles: collect every target, submit one
// batch, wait Interval, repeat.
type Loop struct {
	Targets   []config.Database
	Collector TargetCollector
	Publisher publisher.Publisher
	Interval  time.Duration

	// Concurrency bounds how many targets are collected at once.
	// Values below 2 visit targets strictly in sequence.
	Concurrency int

	Clock    clock.Clock
	Reporter Reporter
	Log      *zap.Logger
}

// CycleResult summarises one cycle.
type CycleResult struct {
	Points   int
	Err      error // *SubmissionError when the batch was rejected
	Duration time.Duration
}

// Run executes cycles until ctx is cancelled and returns ctx.Err().
// The first cycle starts immediately.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.Clock.After(l.Interval):
		}
	}
}

// RunCycle performs exactly one collection cycle. The batch is dropped
// after submission whether or not it succeeded.
func (l *Loop) RunCycle(ctx context.Context) CycleResult {
	acc := NewAccumulator(l.Clock.Now())

	if l.Concurrency > 1 {
		l.collectConcurrently(ctx, acc)
	} else {
		for _, db := range l.Targets {
			acc.Add(l.Collector.Collect(ctx, db)...)
		}
	}

	batch := l.Publisher.NewBatch()
	for _, p := range acc.Points() {
		publisher.AddPoint(batch, p)
	}

	res := CycleResult{Points: batch.Len()}
	if err := batch.Submit(ctx); err != nil {
		res.Err = &SubmissionError{Points: batch.Len(), Err: err}
		l.Reporter.ReportError(res.Err)
	}
	res.Duration = l.Clock.Now().Sub(acc.StartedAt)

	l.Log.Info("cycle complete",
		zap.Int("sources", len(l.Targets)),
		zap.Int("metrics", res.Points),
		zap.Bool("submitted", res.Err == nil),
		zap.Duration("took", res.Duration),
	)
	return res
}

// collectConcurrently collects up to Concurrency targets at once and
// adds their points in configured order once all have finished.
func (l *Loop) collectConcurrently(ctx context.Context, acc *Accumulator) {
	results := make([][]metric.Point, len(l.Targets))

	var g errgroup.Group
	g.SetLimit(l.Concurrency)
	for i, db := range l.Targets {
		g.Go(func() error {
			results[i] = l.Collector.Collect(ctx, db)
			return nil
		})
	}
	_ = g.Wait() // collections report their own failures

	for _, points := range results {
		acc.Add(points...)
	}
}
