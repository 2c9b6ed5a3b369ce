package collector

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ConnectionError means a database could not be reached or its
// connection failed to close cleanly.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("source %s: connection: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means a statistics accessor failed. The remaining
// accessors for that source were skipped.
type QueryError struct {
	Source   string
	Accessor string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Accessor, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SubmissionError means the publisher did not accept a cycle's batch.
// The batch is dropped.
type SubmissionError struct {
	Points int
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit batch of %d metrics: %v", e.Points, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Reporter receives every error isolated at a source or cycle boundary.
type Reporter interface {
	ReportError(err error)
}

// LogReporter reports errors through a zap logger.
type LogReporter struct {
	Log *zap.Logger
}

// ReportError implements Reporter.
func (r LogReporter) ReportError(err error) {
	var (
		connErr   *ConnectionError
		queryErr  *QueryError
		submitErr *SubmissionError
	)
	switch {
	case errors.As(err, &connErr):
		r.Log.Warn("database connection failed",
			zap.String("source", connErr.Source), zap.Error(connErr.Err))
	case errors.As(err, &queryErr):
		r.Log.Error("statistics query failed",
			zap.String("source", queryErr.Source),
			zap.String("accessor", queryErr.Accessor),
			zap.Error(queryErr.Err))
	case errors.As(err, &submitErr):
		r.Log.Error("batch submission failed",
			zap.Int("metrics", submitErr.Points), zap.Error(submitErr.Err))
	default:
		r.Log.Error("collection error", zap.Error(err))
	}
}
