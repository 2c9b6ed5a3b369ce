package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pgmonitor/config"
	"pgmonitor/logger"
	"pgmonitor/metric"
)

// Conn is an open database connection owned by one collection.
type Conn interface {
	Querier
	Close(ctx context.Context) error
}

var _ Conn = (*pgx.Conn)(nil)

// Dialer opens connections to configured databases.
type Dialer interface {
	Dial(ctx context.Context, db config.Database) (Conn, error)
}

// PgxDialer connects with pgx using a libpq connection string.
type PgxDialer struct {
	ConnectTimeout  time.Duration
	ApplicationName string
}

// Dial implements Dialer. The connect timeout is applied both in the
// connection string and to the dial context.
func (d PgxDialer) Dial(ctx context.Context, db config.Database) (Conn, error) {
	secs := int(math.Ceil(d.ConnectTimeout.Seconds()))
	cfg, err := pgx.ParseConfig(db.ConnString(secs, d.ApplicationName))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SourceCollector runs one database through the full accessor sequence.
type SourceCollector struct {
	Dialer   Dialer
	Prefix   string // prepended to every metric name, e.g. "postgres.pg_stat."
	Reporter Reporter
	Log      *zap.Logger
}

// NewSourceCollector returns a collector that reports through reporter.
func NewSourceCollector(dialer Dialer, prefix string, reporter Reporter, log *zap.Logger) *SourceCollector {
	return &SourceCollector{
		Dialer:   dialer,
		Prefix:   prefix,
		Reporter: reporter,
		Log:      log,
	}
}

// Collect returns every point for db, tagged with db.Source. Failures
// are reported, never returned: an unreachable database or a failing
// accessor yields no points. The connection is always closed.
func (c *SourceCollector) Collect(ctx context.Context, db config.Database) []metric.Point {
	log := logger.WithSource(c.Log, db.Source)

	conn, err := c.Dialer.Dial(ctx, db)
	if err != nil {
		c.Reporter.ReportError(&ConnectionError{Source: db.Source, Err: err})
		return nil
	}

	points, err := c.collect(logger.WithContext(ctx, log), NewPostgresSource(conn, log), db)
	if cerr := conn.Close(ctx); cerr != nil {
		err = multierr.Append(err, &ConnectionError{Source: db.Source, Err: fmt.Errorf("close: %w", cerr)})
	}
	for _, e := range multierr.Errors(err) {
		c.Reporter.ReportError(e)
	}

	log.Debug("source collected", zap.Int("metrics", len(points)))
	return points
}

// collect runs the accessors in a fixed order. The first failure
// abandons the rest and discards what was already read.
func (c *SourceCollector) collect(ctx context.Context, src MetricSource, db config.Database) ([]metric.Point, error) {
	fail := func(accessor string, err error) ([]metric.Point, error) {
		return nil, &QueryError{Source: db.Source, Accessor: accessor, Err: err}
	}
	var points []metric.Point
	add := func(name string, value float64, kind metric.Kind) {
		points = append(points, metric.Point{Name: c.Prefix + name, Value: value, Kind: kind, Source: db.Source})
	}

	version, err := src.Version(ctx)
	if err != nil {
		return fail("version", err)
	}

	indexHits, err := src.IndexHitRatio(ctx)
	if err != nil {
		return fail("index_hit_ratio", err)
	}
	add("index_hits", indexHits, metric.Gauge)

	cacheHits, err := src.CacheHitRatio(ctx)
	if err != nil {
		return fail("cache_hit_ratio", err)
	}
	add("cache_hits", cacheHits, metric.Gauge)

	states, err := src.BackendStates(ctx, version)
	if err != nil {
		return fail("backend_states", err)
	}
	for _, s := range states {
		add("backends_"+s.State, float64(s.Count), metric.Gauge)
	}

	waiting, err := src.WaitingBackends(ctx, version)
	if err != nil {
		return fail("waiting_backends", err)
	}
	add("backends_waiting", float64(waiting), metric.Gauge)

	times, err := src.BackendTimes(ctx, version)
	if err != nil {
		return fail("backend_times", err)
	}
	for _, t := range times {
		add(t.Name, t.Value, metric.Gauge)
	}

	scans, err := src.SequentialAndIndexScans(ctx)
	if err != nil {
		return fail("scans", err)
	}
	for _, s := range scans {
		add(s.Name, float64(s.Value), metric.Counter)
	}

	stats, err := src.DatabaseStats(ctx, db.Database, version)
	if err != nil {
		return fail("database_stats", err)
	}
	for _, s := range stats {
		add(s.Name, float64(s.Value), metric.Counter)
	}

	for _, sized := range []struct {
		accessor string
		fetch    func(context.Context) ([]Measurement, error)
	}{
		{"index_sizes", src.IndexSizes},
		{"table_sizes", src.TableSizes},
	} {
		sizes, err := sized.fetch(ctx)
		if errors.Is(err, ErrNotImplemented) {
			continue
		}
		if err != nil {
			return fail(sized.accessor, err)
		}
		for _, s := range sizes {
			add(s.Name, s.Value, metric.Gauge)
		}
	}

	return points, nil
}
