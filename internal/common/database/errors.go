package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

// ErrExecutorClosed is returned when a request is submitted to a threaded executor after Close.
var ErrExecutorClosed = errors.New("database executor is closed")

// ErrConnectivity is returned when no connection to the database could be obtained.
type ErrConnectivity struct {
	Err error
}

func (err *ErrConnectivity) Error() string {
	return fmt.Sprintf("failed to connect to database: %s", err.Err)
}

func (err *ErrConnectivity) Unwrap() error {
	return err.Err
}

// ErrTimeout is returned when preparing or executing a statement exceeds the statement timeout.
// Op is either "preparing" or "executing"; Params is only set for the latter.
type ErrTimeout struct {
	Op        string
	Statement string
	Params    []interface{}
	Timeout   time.Duration
}

func (err *ErrTimeout) Error() string {
	if err.Op == opExecuting {
		return fmt.Sprintf("timeout after %s executing statement: %s, params: %v", err.Timeout, err.Statement, err.Params)
	}
	return fmt.Sprintf("timeout after %s %s statement: %s", err.Timeout, err.Op, err.Statement)
}

// ErrRowMaterialization is returned when a result row cannot be converted into the request's row type.
type ErrRowMaterialization struct {
	Index int
	Err   error
}

func (err *ErrRowMaterialization) Error() string {
	return fmt.Sprintf("failed to materialize row %d: %s", err.Index, err.Err)
}

func (err *ErrRowMaterialization) Unwrap() error {
	return err.Err
}

// ErrPrepare is returned when the database rejects a statement while it is being prepared.
type ErrPrepare struct {
	Name      string
	Statement string
	Err       error
}

func (err *ErrPrepare) Error() string {
	return fmt.Sprintf("failed to prepare statement %s (%s): %s", err.Name, err.Statement, err.Err)
}

func (err *ErrPrepare) Unwrap() error {
	return err.Err
}

const (
	opPreparing = "preparing"
	opExecuting = "executing"
)

var schemaMismatchMessages = []string{
	"cache lookup failed for type",
	"cached plan must not change result type",
}

// IsSchemaMismatch reports whether err means a cached prepared statement no longer matches the database schema,
// so the statement cache must be purged before trying again.
func IsSchemaMismatch(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.FeatureNotSupported:
			return strings.Contains(pgErr.Message, schemaMismatchMessages[1])
		case pgerrcode.InvalidSQLStatementName:
			return true
		case pgerrcode.InternalError:
			return strings.Contains(pgErr.Message, schemaMismatchMessages[0])
		}
		return false
	}
	reason := err.Error()
	for _, message := range schemaMismatchMessages {
		if strings.Contains(reason, message) {
			return true
		}
	}
	return isMissingPreparedStatement(reason)
}

// isMissingPreparedStatement matches `prepared statement "name" does not exist`.
func isMissingPreparedStatement(reason string) bool {
	start := strings.Index(reason, `prepared statement "`)
	if start < 0 {
		return false
	}
	return strings.Contains(reason[start:], `" does not exist`)
}

// isRetryable is true only for schema mismatches reported by the database while running a query. Prepare failures
// and errors raised by the executor itself are final.
func isRetryable(err error) bool {
	var connErr *ErrConnectivity
	var timeoutErr *ErrTimeout
	var rowErr *ErrRowMaterialization
	var prepareErr *ErrPrepare
	if errors.As(err, &connErr) || errors.As(err, &timeoutErr) || errors.As(err, &rowErr) || errors.As(err, &prepareErr) {
		return false
	}
	return IsSchemaMismatch(err)
}
