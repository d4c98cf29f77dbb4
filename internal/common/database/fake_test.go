package database

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
)

// fakeServer mimics the parts of Postgres the executors rely on: named statements held per connection, and query
// errors that surface while reading the result.
type fakeServer struct {
	mu          sync.Mutex
	prepared    map[string]string
	prepares    int
	queries     int
	inFlight    int
	maxInFlight int
	queryErrs   []error
	prepareErr  error
	acquireErr  error
	blockPrep   bool
	blockQuery  bool
	rowsFor     func(sql string, params []interface{}) [][]interface{}
	executed    []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		prepared: map[string]string{},
		rowsFor: func(sql string, params []interface{}) [][]interface{} {
			return [][]interface{}{{1, "one"}, {2, "two"}, {3, "three"}}
		},
	}
}

func (s *fakeServer) failNextQueries(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErrs = append(s.queryErrs, errs...)
}

func (s *fakeServer) stats() (prepares int, queries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepares, s.queries
}

type fakePool struct {
	server *fakeServer
	closed bool
}

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	p.server.mu.Lock()
	defer p.server.mu.Unlock()
	if p.server.acquireErr != nil {
		return nil, p.server.acquireErr
	}
	return &fakeConn{server: p.server}, nil
}

func (p *fakePool) Ping(_ context.Context) error {
	return nil
}

func (p *fakePool) Stat() PoolStats {
	return PoolStats{TotalConns: 1, IdleConns: 1, MaxConns: 1}
}

func (p *fakePool) Close() {
	p.closed = true
}

type fakeConn struct {
	server *fakeServer
}

func (c *fakeConn) Prepare(ctx context.Context, name string, sql string) error {
	c.server.mu.Lock()
	block := c.server.blockPrep
	c.server.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if c.server.prepareErr != nil {
		c.server.prepares++
		return c.server.prepareErr
	}
	if existing, ok := c.server.prepared[name]; ok && existing == sql {
		return nil
	}
	c.server.prepared[name] = sql
	c.server.prepares++
	return nil
}

func (c *fakeConn) Query(ctx context.Context, name string, args ...interface{}) (Rows, error) {
	c.server.mu.Lock()
	c.server.queries++
	c.server.inFlight++
	if c.server.inFlight > c.server.maxInFlight {
		c.server.maxInFlight = c.server.inFlight
	}
	block := c.server.blockQuery
	sql, ok := c.server.prepared[name]
	var queryErr error
	if len(c.server.queryErrs) > 0 {
		queryErr = c.server.queryErrs[0]
		c.server.queryErrs = c.server.queryErrs[1:]
	}
	rowsFor := c.server.rowsFor
	c.server.executed = append(c.server.executed, fmt.Sprint(args...))
	c.server.mu.Unlock()

	defer func() {
		c.server.mu.Lock()
		c.server.inFlight--
		c.server.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return &fakeRows{err: &pgconn.PgError{
			Severity: "ERROR",
			Code:     "26000",
			Message:  fmt.Sprintf("prepared statement %q does not exist", name),
		}}, nil
	}
	if queryErr != nil {
		return &fakeRows{err: queryErr}, nil
	}
	return &fakeRows{rows: rowsFor(sql, args), index: -1}, nil
}

func (c *fakeConn) Release() {}

type fakeRows struct {
	rows  [][]interface{}
	index int
	err   error
}

func (r *fakeRows) Next() bool {
	if r.err != nil {
		return false
	}
	r.index++
	return r.index < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.index]
	if len(dest) != len(row) {
		return errors.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, value := range row {
		target := reflect.ValueOf(dest[i]).Elem()
		v := reflect.ValueOf(value)
		if !v.Type().AssignableTo(target.Type()) {
			return errors.Errorf("cannot scan %T into %s", value, target.Type())
		}
		target.Set(v)
	}
	return nil
}

func (r *fakeRows) Err() error {
	return r.err
}

func (r *fakeRows) Close() {}

type numberRow struct {
	N     int    `json:"n"`
	Label string `json:"label"`
}

type numbersRequest struct {
	limit int
}

func (r numbersRequest) Statement() string {
	return "SELECT n, label FROM numbers WHERE n <= $1 ORDER BY n"
}

func (r numbersRequest) Params() []interface{} {
	return []interface{}{r.limit}
}

func (r numbersRequest) ScanRow(row Row) (numberRow, error) {
	var n numberRow
	err := row.Scan(&n.N, &n.Label)
	return n, err
}

// labelOnlyRequest scans the first column into a string, which fails on the fake's integer column.
type labelOnlyRequest struct{}

func (labelOnlyRequest) Statement() string {
	return "SELECT n, label FROM numbers"
}

func (labelOnlyRequest) Params() []interface{} {
	return nil
}

func (labelOnlyRequest) ScanRow(row Row) (string, error) {
	var a, b string
	err := row.Scan(&a, &b)
	return a + b, err
}

type panickingRequest struct{}

func (panickingRequest) Statement() string {
	return "SELECT n, label FROM numbers"
}

func (panickingRequest) Params() []interface{} {
	return nil
}

func (panickingRequest) ScanRow(Row) (int, error) {
	panic("scan exploded")
}

func mismatchError() error {
	return &pgconn.PgError{
		Severity: "ERROR",
		Code:     "0A000",
		Message:  "cached plan must not change result type",
	}
}
