package collector

import "strings"

var (
	// pg_stat_activity gained the state column in 9.2.
	version92 = ServerVersion{9, 2}
	// the waiting column was replaced by wait_event_type in 9.6.
	version96 = ServerVersion{9, 6}
)

// versionedQuery is a query text valid from a server version onwards.
// A nil since applies to every version.
type versionedQuery struct {
	since ServerVersion
	sql   string
}

// queryStrategy lists the variants of one query, oldest first.
type queryStrategy []versionedQuery

// forVersion returns the newest variant whose since is not after v.
func (s queryStrategy) forVersion(v ServerVersion) string {
	sql := s[0].sql
	for _, q := range s[1:] {
		if v.AtLeast(q.since) {
			sql = q.sql
		}
	}
	return sql
}

const (
	versionQuery = `select split_part(version(), ' ', 2)`

	indexBlocksQuery = `select coalesce(sum(idx_blks_hit), 0)::float8, coalesce(sum(idx_blks_read), 0)::float8
from pg_statio_user_indexes`

	heapBlocksQuery = `select coalesce(sum(heap_blks_hit), 0)::float8, coalesce(sum(heap_blks_read), 0)::float8
from pg_statio_user_tables`

	scansQuery = `select coalesce(sum(seq_scan), 0)::int8, coalesce(sum(idx_scan), 0)::int8
from pg_stat_user_tables`
)

var backendStatesQueries = queryStrategy{
	{sql: `select (case
    when current_query = '<IDLE> in transaction' then 'idle_in_transaction'
    when current_query = '<IDLE>' then 'idle'
    when current_query like 'autovacuum:%' then 'autovacuum'
    else 'active'
  end), count(*)
from pg_stat_activity group by 1`},
	{since: version92, sql: `select state, count(*) from pg_stat_activity group by 1`},
}

var waitingBackendsQueries = queryStrategy{
	{sql: `select count(*) from pg_stat_activity where waiting`},
	{since: version96, sql: `select count(*) from pg_stat_activity where wait_event_type = 'Lock'`},
}

// Running time of every active backend, excluding this collector's own
// statistics queries.
var backendTimesQueries = queryStrategy{
	{sql: `select extract('epoch' from greatest(now() - query_start, '0'))::float8 as runtime
from pg_stat_activity
where current_query not like '<IDLE>%' and current_query not like '%pg_stat%' and current_query not like 'autovacuum:%'
order by 1`},
	{since: version92, sql: `select extract('epoch' from greatest(now() - query_start, '0'))::float8 as runtime
from pg_stat_activity
where state != 'idle' and query not like '%pg_stat%'
order by 1`},
}

// databaseStat maps a pg_stat_database column onto a metric name.
type databaseStat struct {
	column string
	name   string
	since  ServerVersion
}

var databaseStats = []databaseStat{
	{column: "xact_commit", name: "transactions_committed"},
	{column: "xact_rollback", name: "transactions_rolled_back"},
	{column: "blks_read", name: "disk_blocks_read"},
	{column: "blks_hit", name: "disk_blocks_cache_hit"},
	{column: "tup_returned", name: "rows_returned"},
	{column: "tup_fetched", name: "rows_fetched"},
	{column: "tup_inserted", name: "rows_inserted"},
	{column: "tup_updated", name: "rows_updated"},
	{column: "tup_deleted", name: "rows_deleted"},
	{column: "temp_bytes", name: "temp_file_bytes", since: version92},
	{column: "blk_read_time", name: "block_read_time", since: version92},
}

// databaseStatsQuery returns the query for v and the metric name of
// each selected column, in order. The database name is parameter $1.
func databaseStatsQuery(v ServerVersion) (string, []string) {
	var (
		columns []string
		names   []string
	)
	for _, s := range databaseStats {
		if s.since != nil && v.Before(s.since) {
			continue
		}
		columns = append(columns, s.column+"::float8")
		names = append(names, s.name)
	}
	return "select " + strings.Join(columns, ", ") + " from pg_stat_database where datname = $1", names
}
