package publisher

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes every measurement to the logger instead of a
// remote backend. Useful for a dry run against real databases.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher returns a Publisher that logs at info level.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// NewBatch implements Publisher.
func (p *LogPublisher) NewBatch() Batch {
	return &logBatch{log: p.log}
}

type logBatch struct {
	Buffer
	log *zap.Logger
}

// Submit logs one entry per measurement and never fails.
func (b *logBatch) Submit(ctx context.Context) error {
	for _, m := range b.Points {
		b.log.Info("metric",
			zap.String("name", m.Name),
			zap.Float64("value", m.Value),
			zap.Stringer("type", m.Kind),
			zap.String("source", m.Source),
		)
	}
	b.log.Debug("batch logged", zap.Int("metrics", len(b.Points)))
	return nil
}
