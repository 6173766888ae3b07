package rowwatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by Start when no store target is set.
	ErrNotConfigured = errors.New("rowwatch: store target not configured")
	// ErrNotRunning is returned by Stop and ForceCycle on an idle poller.
	ErrNotRunning = errors.New("rowwatch: poller not running")
	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("rowwatch: poller already running")
	// ErrRetryBudgetExceeded is carried by the Fatal event after auto-stop.
	ErrRetryBudgetExceeded = errors.New("rowwatch: retry budget exceeded")
)

// ConnectionError means a session to the store could not be opened. It feeds
// the reconnect path and never consumes retry budget.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means a query ran on an open session and failed.
type QueryError struct {
	Op    string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error during %s on %s: %v", e.Op, e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is, or wraps, a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsQueryError reports whether err is, or wraps, a QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
