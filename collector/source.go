package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"pgmonitor/logger"
)

// ErrNotImplemented is returned by accessors that exist for a uniform
// contract but do not produce data yet.
var ErrNotImplemented = errors.New("accessor not implemented")

// MetricSource is the set of read-only statistics accessors for one
// open database connection. Every accessor propagates query failures;
// none substitutes a default value.
type MetricSource interface {
	// Version returns the server version.
	Version(ctx context.Context) (ServerVersion, error)

	// IndexHitRatio is hits / (1 + hits + misses) over index blocks.
	IndexHitRatio(ctx context.Context) (float64, error)

	// CacheHitRatio is hits / (1 + hits + misses) over heap blocks.
	CacheHitRatio(ctx context.Context) (float64, error)

	// BackendStates counts backends per state label.
	BackendStates(ctx context.Context, v ServerVersion) ([]StateCount, error)

	// WaitingBackends counts backends blocked on a lock.
	WaitingBackends(ctx context.Context, v ServerVersion) (int64, error)

	// BackendTimes summarises the running time of active backends.
	// It returns nothing when no backend is active.
	BackendTimes(ctx context.Context, v ServerVersion) ([]Measurement, error)

	// SequentialAndIndexScans sums scans over all user tables.
	SequentialAndIndexScans(ctx context.Context) ([]Counter, error)

	// DatabaseStats reads the pg_stat_database counters of one database.
	DatabaseStats(ctx context.Context, database string, v ServerVersion) ([]Counter, error)

	// IndexSizes and TableSizes are placeholders; both return ErrNotImplemented.
	IndexSizes(ctx context.Context) ([]Measurement, error)
	TableSizes(ctx context.Context) ([]Measurement, error)
}

// StateCount is the number of backends in one state.
type StateCount struct {
	State string
	Count int64
}

// Measurement is a named fractional value.
type Measurement struct {
	Name  string
	Value float64
}

// Counter is a named integer total.
type Counter struct {
	Name  string
	Value int64
}

// Querier is the subset of *pgx.Conn the accessors need.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource implements MetricSource over a PostgreSQL connection.
type PostgresSource struct {
	q   Querier
	log *zap.Logger
}

var _ MetricSource = (*PostgresSource)(nil)

// NewPostgresSource wraps an open connection.
func NewPostgresSource(q Querier, log *zap.Logger) *PostgresSource {
	return &PostgresSource{q: q, log: log}
}

func (s *PostgresSource) debug(ctx context.Context, accessor, sql string) {
	logger.FromContext(ctx, s.log).Debug("running statistics query",
		zap.String("accessor", accessor), zap.String("sql", sql))
}

// Version implements MetricSource.
func (s *PostgresSource) Version(ctx context.Context) (ServerVersion, error) {
	s.debug(ctx, "version", versionQuery)
	var token string
	if err := s.q.QueryRow(ctx, versionQuery).Scan(&token); err != nil {
		return nil, err
	}
	return ParseServerVersion(token)
}

// IndexHitRatio implements MetricSource.
func (s *PostgresSource) IndexHitRatio(ctx context.Context) (float64, error) {
	return s.blockRatio(ctx, "index_hit_ratio", indexBlocksQuery)
}

// CacheHitRatio implements MetricSource.
func (s *PostgresSource) CacheHitRatio(ctx context.Context) (float64, error) {
	return s.blockRatio(ctx, "cache_hit_ratio", heapBlocksQuery)
}

func (s *PostgresSource) blockRatio(ctx context.Context, accessor, sql string) (float64, error) {
	s.debug(ctx, accessor, sql)
	var hits, misses float64
	if err := s.q.QueryRow(ctx, sql).Scan(&hits, &misses); err != nil {
		return 0, err
	}
	return hitRatio(hits, misses), nil
}

// hitRatio keeps the +1 in the denominator: an idle server reports 0
// instead of dividing by zero, and near-idle servers are biased low.
func hitRatio(hits, misses float64) float64 {
	return hits / (1 + hits + misses)
}

// BackendStates implements MetricSource.
func (s *PostgresSource) BackendStates(ctx context.Context, v ServerVersion) ([]StateCount, error) {
	sql := backendStatesQueries.forVersion(v)
	s.debug(ctx, "backend_states", sql)
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StateCount, error) {
		var (
			state *string
			count int64
		)
		if err := row.Scan(&state, &count); err != nil {
			return StateCount{}, err
		}
		return StateCount{State: stateLabel(state), Count: count}, nil
	})
}

// stateLabel turns a nullable state into a metric-safe label.
func stateLabel(state *string) string {
	if state == nil {
		return "null"
	}
	return strings.ReplaceAll(*state, " ", "_")
}

// WaitingBackends implements MetricSource.
func (s *PostgresSource) WaitingBackends(ctx context.Context, v ServerVersion) (int64, error) {
	sql := waitingBackendsQueries.forVersion(v)
	s.debug(ctx, "waiting_backends", sql)
	var n int64
	if err := s.q.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// BackendTimes implements MetricSource.
func (s *PostgresSource) BackendTimes(ctx context.Context, v ServerVersion) ([]Measurement, error) {
	sql := backendTimesQueries.forVersion(v)
	s.debug(ctx, "backend_times", sql)
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	times, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return nil, err
	}
	return summarizeTimes(times), nil
}

// summarizeTimes returns max, mean and median of the running times.
// The median is the element at index n/2 after sorting, i.e. the upper
// median for even n.
func summarizeTimes(times []float64) []Measurement {
	if len(times) == 0 {
		return nil
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)

	var sum float64
	for _, t := range sorted {
		sum += t
	}
	return []Measurement{
		{Name: "max_query_time", Value: sorted[len(sorted)-1]},
		{Name: "mean_query_time", Value: sum / float64(len(sorted))},
		{Name: "median_query_time", Value: sorted[len(sorted)/2]},
	}
}

// SequentialAndIndexScans implements MetricSource.
func (s *PostgresSource) SequentialAndIndexScans(ctx context.Context) ([]Counter, error) {
	s.debug(ctx, "scans", scansQuery)
	var seq, idx int64
	if err := s.q.QueryRow(ctx, scansQuery).Scan(&seq, &idx); err != nil {
		return nil, err
	}
	return []Counter{
		{Name: "sequential_scans", Value: seq},
		{Name: "index_scans", Value: idx},
	}, nil
}

// DatabaseStats implements MetricSource. Values are rounded half-up.
func (s *PostgresSource) DatabaseStats(ctx context.Context, database string, v ServerVersion) ([]Counter, error) {
	sql, names := databaseStatsQuery(v)
	s.debug(ctx, "database_stats", sql)

	values := make([]float64, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := s.q.QueryRow(ctx, sql, database).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("database %q not found in pg_stat_database: %w", database, err)
		}
		return nil, err
	}

	counters := make([]Counter, len(names))
	for i, name := range names {
		counters[i] = Counter{Name: name, Value: roundHalfUp(values[i])}
	}
	return counters, nil
}

// roundHalfUp rounds to the nearest integer, with .5 going up:
// 4.4 -> 4, 4.5 -> 5.
func roundHalfUp(f float64) int64 {
	return int64(math.Floor(f + 0.5))
}

// IndexSizes implements MetricSource.
func (s *PostgresSource) IndexSizes(ctx context.Context) ([]Measurement, error) {
	return nil, ErrNotImplemented
}

// TableSizes implements MetricSource.
func (s *PostgresSource) TableSizes(ctx context.Context) ([]Measurement, error) {
	return nil, ErrNotImplemented
}
