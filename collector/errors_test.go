package collector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogReporterByKind(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rep := LogReporter{Log: zap.New(core)}
	cause := errors.New("boom")

	rep.ReportError(&ConnectionError{Source: "primary", Err: cause})
	rep.ReportError(&QueryError{Source: "replica", Accessor: "backend_times", Err: cause})
	rep.ReportError(&SubmissionError{Points: 12, Err: cause})
	rep.ReportError(cause)

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "database connection failed", entries[0].Message)
	assert.Equal(t, "primary", entries[0].ContextMap()["source"])

	assert.Equal(t, "statistics query failed", entries[1].Message)
	assert.Equal(t, "backend_times", entries[1].ContextMap()["accessor"])

	assert.Equal(t, "batch submission failed", entries[2].Message)
	assert.EqualValues(t, 12, entries[2].ContextMap()["metrics"])

	assert.Equal(t, "collection error", entries[3].Message)
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("timeout")
	assert.Equal(t, "source primary: connection: timeout", (&ConnectionError{Source: "primary", Err: cause}).Error())
	assert.Equal(t, "source primary: scans: timeout", (&QueryError{Source: "primary", Accessor: "scans", Err: cause}).Error())
	assert.Equal(t, "submit batch of 3 metrics: timeout", (&SubmissionError{Points: 3, Err: cause}).Error())
}
