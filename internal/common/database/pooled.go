package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
)

const maxAttempts = 2

// PooledExecutor runs requests on connections drawn from a Pool. Statements are prepared once per connection and
// remembered in an LRU keyed by SQL text. When the database reports that a cached plan no longer matches the
// schema, the whole cache is purged and the request is tried once more.
type PooledExecutor struct {
	pool             Pool
	connHash         uint64
	statementTimeout time.Duration
	acquireTimeout   time.Duration
	log              *log.Entry

	// Guards statements and generation. Purging bumps the generation so that statements prepared before the
	// purge are never reused under a new name.
	mu         sync.Mutex
	statements *lru.Cache
	generation uint64
}

// query is a request with its row type erased. materialize consumes the rows of one attempt.
type query struct {
	statement   string
	params      []interface{}
	materialize func(Rows) error
}

func NewPooledExecutor(pool Pool, config DatabaseConfig, logger *log.Entry) (*PooledExecutor, error) {
	statements, err := lru.New(config.statementCacheSize())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &PooledExecutor{
		pool:             pool,
		connHash:         config.ConnHash(),
		statementTimeout: config.statementTimeout(),
		acquireTimeout:   config.AcquireTimeout,
		log:              logger,
		statements:       statements,
	}, nil
}

// ExecutePooled runs req and returns its rows in result order.
func ExecutePooled[R any](ctx context.Context, p *PooledExecutor, req Request[R]) ([]R, error) {
	var result []R
	err := p.execute(ctx, query{
		statement:   req.Statement(),
		params:      req.Params(),
		materialize: collectRows(req, &result),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PooledExecutor) execute(ctx context.Context, q query) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = p.attempt(ctx, q)
		if err == nil || !isRetryable(err) {
			return err
		}
		p.log.WithError(err).Warn("Database schema has changed; purging statement cache and retrying query")
		p.Purge()
	}
	return err
}

func (p *PooledExecutor) attempt(ctx context.Context, q query) error {
	start := time.Now()
	err := p.run(ctx, q)
	elapsed := time.Since(start)
	if err != nil {
		queryLatency.WithLabelValues("error").Observe(elapsed.Seconds())
		return err
	}
	queryLatency.WithLabelValues("success").Observe(elapsed.Seconds())
	p.log.Debugf("Database query took %.3f seconds: %s %v", elapsed.Seconds(), q.statement, q.params)
	return nil
}

func (p *PooledExecutor) run(ctx context.Context, q query) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	name, err := p.prepare(ctx, conn, q.statement)
	if err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.statementTimeout)
	defer cancel()
	rows, err := conn.Query(queryCtx, name, q.params...)
	if err != nil {
		return p.queryError(ctx, queryCtx, q, err)
	}
	defer rows.Close()
	if err := q.materialize(rows); err != nil {
		var rowErr *ErrRowMaterialization
		if errors.As(err, &rowErr) {
			return errors.WithStack(err)
		}
		return p.queryError(ctx, queryCtx, q, err)
	}
	return nil
}

func (p *PooledExecutor) acquire(ctx context.Context) (Conn, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.WithStack(&ErrConnectivity{Err: err})
	}
	return conn, nil
}

func (p *PooledExecutor) prepare(ctx context.Context, conn Conn, sql string) (string, error) {
	name := p.statementName(sql)
	prepareCtx, cancel := context.WithTimeout(ctx, p.statementTimeout)
	defer cancel()
	if err := conn.Prepare(prepareCtx, name, sql); err != nil {
		if timedOut(ctx, prepareCtx) {
			return "", errors.WithStack(&ErrTimeout{Op: opPreparing, Statement: sql, Timeout: p.statementTimeout})
		}
		return "", errors.WithStack(&ErrPrepare{Name: name, Statement: sql, Err: err})
	}
	return name, nil
}

func (p *PooledExecutor) queryError(ctx context.Context, queryCtx context.Context, q query, err error) error {
	if timedOut(ctx, queryCtx) {
		return errors.WithStack(&ErrTimeout{
			Op:        opExecuting,
			Statement: q.statement,
			Params:    q.params,
			Timeout:   p.statementTimeout,
		})
	}
	return errors.WithStack(err)
}

// timedOut is true when inner hit its own deadline rather than being cancelled by the caller.
func timedOut(outer context.Context, inner context.Context) bool {
	return outer.Err() == nil && errors.Is(inner.Err(), context.DeadlineExceeded)
}

func (p *PooledExecutor) statementName(sql string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.statements.Get(sql); ok {
		statementCacheLookups.WithLabelValues("hit").Inc()
		return name.(string)
	}
	statementCacheLookups.WithLabelValues("miss").Inc()
	name := fmt.Sprintf("conduit_%016x_%d", xxh3.HashString(sql), p.generation)
	p.statements.Add(sql, name)
	return name
}

// Purge forgets every cached statement. Subsequent requests prepare their statements afresh.
func (p *PooledExecutor) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.statements.Purge()
	statementCachePurges.Inc()
}

// CachedStatements returns the number of statements currently cached.
func (p *PooledExecutor) CachedStatements() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statements.Len()
}

// ConnHash identifies the database this executor talks to.
func (p *PooledExecutor) ConnHash() uint64 {
	return p.connHash
}

func (p *PooledExecutor) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PooledExecutor) Stat() PoolStats {
	return p.pool.Stat()
}

func (p *PooledExecutor) Close() {
	p.pool.Close()
}
