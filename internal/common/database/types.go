package database

import (
	"context"
)

// Row is the view of a result row handed to Request.ScanRow.
type Row interface {
	// Scan reads the values from the current row into dest values positionally.
	Scan(dest ...interface{}) error
}

// Rows represents an iterator over a result set.
type Rows interface {
	Row

	// Next moves the iterator to the next row in the result set, it returns false if the result set is exhausted.
	Next() bool

	// Err returns the error, if any, encountered while running the query or iterating over the result set.
	Err() error

	// Close closes the result set.
	Close()
}

// Conn is a connection checked out of a Pool.
type Conn interface {
	// Prepare creates a named prepared statement on this connection. Preparing a name that this connection
	// already holds with the same sql is a no-op.
	Prepare(ctx context.Context, name string, sql string) error

	// Query runs the prepared statement called name with the given arguments.
	Query(ctx context.Context, name string, args ...interface{}) (Rows, error)

	// Release returns the connection to the pool.
	Release()
}

// Pool is the connection pool the executors draw from.
type Pool interface {
	// Acquire checks a connection out of the pool, waiting for one to become free if necessary.
	Acquire(ctx context.Context) (Conn, error)

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Stat reports the current pool occupancy.
	Stat() PoolStats

	// Close closes every connection in the pool.
	Close()
}

type PoolStats struct {
	AcquireCount  int64 `json:"acquire_count"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
}
