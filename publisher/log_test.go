package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pgmonitor/metric"
)

func TestLogPublisherLogsEveryPoint(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	b := pub.NewBatch()
	b.Add("postgres.pg_stat.index_hits", 0.97, AddOptions{Source: "primary"})
	AddPoint(b, metric.Point{Name: "postgres.pg_stat.index_scans", Value: 42, Kind: metric.Counter, Source: "replica"})
	require.Equal(t, 2, b.Len())

	require.NoError(t, b.Submit(context.Background()))

	entries := logs.FilterMessage("metric").All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "postgres.pg_stat.index_hits", first["name"])
	assert.Equal(t, 0.97, first["value"])
	assert.Equal(t, "gauge", first["type"])
	assert.Equal(t, "primary", first["source"])

	second := entries[1].ContextMap()
	assert.Equal(t, "counter", second["type"])
	assert.Equal(t, "replica", second["source"])
}
