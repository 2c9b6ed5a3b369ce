package collector

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pgmonitor/config"
	"pgmonitor/metric"
	"pgmonitor/publisher"
)

// response is what the fake connection returns for a matching query.
type response struct {
	rows [][]any
	err  error
}

type handler struct {
	match string
	resp  response
}

// fakeConn implements Conn. Queries are matched against handlers in
// registration order by substring.
type fakeConn struct {
	mu       sync.Mutex
	handlers []handler
	queries  []string
	args     [][]any
	closed   bool
	closeErr error
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func (c *fakeConn) on(match string, rows ...[]any) *fakeConn {
	c.handlers = append(c.handlers, handler{match: match, resp: response{rows: rows}})
	return c
}

func (c *fakeConn) fail(match string, err error) *fakeConn {
	c.handlers = append(c.handlers, handler{match: match, resp: response{err: err}})
	return c
}

func (c *fakeConn) lookup(sql string, args []any) response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, sql)
	c.args = append(c.args, args)
	for _, h := range c.handlers {
		if strings.Contains(sql, h.match) {
			return h.resp
		}
	}
	return response{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (c *fakeConn) ran(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queries {
		if strings.Contains(q, substr) {
			return true
		}
	}
	return false
}

func (c *fakeConn) lastQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[len(c.queries)-1]
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := c.lookup(sql, args)
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{rows: r.rows}, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	r := c.lookup(sql, args)
	return &fakeRow{resp: r}
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.closeErr
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeRow struct {
	resp response
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.resp.err != nil {
		return r.resp.err
	}
	if len(r.resp.rows) == 0 {
		return pgx.ErrNoRows
	}
	return scanInto(r.resp.rows[0], dest)
}

// fakeRows implements pgx.Rows over in-memory values.
type fakeRows struct {
	rows   [][]any
	idx    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.idx >= len(r.rows) {
		r.Close()
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return scanInto(r.rows[r.idx-1], dest) }

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1], nil }

// scanInto assigns values to pointer destinations the way pgx does for
// the types used here: NULL only scans into pointer targets.
func scanInto(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(values), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if values[i] == nil {
			if target.Kind() != reflect.Pointer {
				return fmt.Errorf("scan: cannot scan NULL into %s", target.Type())
			}
			target.SetZero()
			continue
		}
		v := reflect.ValueOf(values[i])
		switch {
		case v.Type().AssignableTo(target.Type()):
			target.Set(v)
		case target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()):
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v)
			target.Set(p)
		default:
			return fmt.Errorf("scan: cannot scan %T into %s", values[i], target.Type())
		}
	}
	return nil
}

func row(values ...any) []any { return values }

func strPtr(s string) *string { return &s }

// healthyConn answers every accessor for a server reporting version.
// Version 9.2+ yields 21 points, older versions 19.
func healthyConn(version string) *fakeConn {
	v, _ := ParseServerVersion(version)
	_, statNames := databaseStatsQuery(v)
	stats := make([]any, len(statNames))
	for i := range stats {
		stats[i] = float64(i) + 0.5
	}

	return newFakeConn().
		on("version()", row(version)).
		on("pg_statio_user_indexes", row(99.0, 0.0)).
		on("pg_statio_user_tables", row(0.0, 0.0)).
		on("count(*) from pg_stat_activity group by 1", row(strPtr("active"), int64(3)), row(nil, int64(2))).
		on("then 'idle_in_transaction'", row(strPtr("active"), int64(3)), row(strPtr("idle"), int64(2))).
		on("where waiting", row(int64(1))).
		on("wait_event_type", row(int64(1))).
		on("as runtime", row(1.0), row(2.0), row(3.0), row(4.0)).
		on("pg_stat_user_tables", row(int64(10), int64(20))).
		on("pg_stat_database", stats)
}

// fakeDialer hands out pre-built connections or errors per source.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	errs  map[string]error
	dials []string
}

func (d *fakeDialer) Dial(ctx context.Context, db config.Database) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, db.Source)
	if err, ok := d.errs[db.Source]; ok {
		return nil, err
	}
	c, ok := d.conns[db.Source]
	if !ok {
		return nil, fmt.Errorf("no fake connection for %s", db.Source)
	}
	return c, nil
}

// recordingReporter keeps every reported error.
type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// fakePublisher records every submitted batch.
type fakePublisher struct {
	mu        sync.Mutex
	submitErr error
	attempts  int
	batches   [][]metric.Point
}

func (p *fakePublisher) NewBatch() publisher.Batch { return &fakeBatch{pub: p} }

func (p *fakePublisher) submissions() [][]metric.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]metric.Point(nil), p.batches...)
}

type fakeBatch struct {
	publisher.Buffer
	pub *fakePublisher
}

func (b *fakeBatch) Submit(ctx context.Context) error {
	b.pub.mu.Lock()
	defer b.pub.mu.Unlock()
	b.pub.attempts++
	b.pub.batches = append(b.pub.batches, b.Points)
	return b.pub.submitErr
}

// fakeClock fires every After immediately and calls onAfter with the
// number of waits so far, letting a test stop the loop after N cycles.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waits   []time.Duration
	onAfter func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	n, now, hook := len(c.waits), c.now, c.onAfter
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}
