package database

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// QueueCapacity is the number of requests that may wait for a ThreadedExecutor before submitters block.
const QueueCapacity = 100

// workItem runs one request against the worker's executor and delivers the result itself.
type workItem func(ctx context.Context, pooled *PooledExecutor)

type threadedReply[R any] struct {
	rows []R
	err  error
}

// ThreadedExecutor runs every request on a single goroutine locked to its own OS thread. Callers never touch the
// underlying PooledExecutor; they hand work over a queue and wait for the reply. Requests are served in the order
// they were queued.
type ThreadedExecutor struct {
	queue chan workItem
	done  chan struct{}
	log   *log.Entry

	mu     sync.RWMutex
	closed bool
}

// NewThreadedExecutor starts the worker. The worker owns pooled from now on.
func NewThreadedExecutor(pooled *PooledExecutor, logger *log.Entry) *ThreadedExecutor {
	t := &ThreadedExecutor{
		queue: make(chan workItem, QueueCapacity),
		done:  make(chan struct{}),
		log:   logger,
	}
	go t.run(pooled)
	return t
}

func (t *ThreadedExecutor) run(pooled *PooledExecutor) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)

	ctx := context.Background()
	for item := range t.queue {
		threadedQueueDepth.Dec()
		t.runItem(ctx, pooled, item)
	}
}

func (t *ThreadedExecutor) runItem(ctx context.Context, pooled *PooledExecutor, item workItem) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("Database worker recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()
	item(ctx, pooled)
}

// ExecuteThreaded queues req on t and waits for its rows. If ctx is done before the request is queued or answered,
// ctx's error is returned; a request that was already queued still runs.
func ExecuteThreaded[R any](ctx context.Context, t *ThreadedExecutor, req Request[R]) ([]R, error) {
	reply := make(chan threadedReply[R], 1)
	item := func(workerCtx context.Context, pooled *PooledExecutor) {
		defer close(reply)
		rows, err := ExecutePooled(workerCtx, pooled, req)
		reply <- threadedReply[R]{rows: rows, err: err}
	}
	if err := t.submit(ctx, item); err != nil {
		return nil, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			panic(fmt.Sprintf("database worker dropped request without replying: %s", req.Statement()))
		}
		return r.rows, r.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (t *ThreadedExecutor) submit(ctx context.Context, item workItem) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errors.WithStack(ErrExecutorClosed)
	}
	// Counted before the send, otherwise the worker may decrement first.
	threadedQueueDepth.Inc()
	select {
	case t.queue <- item:
		return nil
	case <-ctx.Done():
		threadedQueueDepth.Dec()
		return errors.WithStack(ctx.Err())
	}
}

// Close stops accepting requests, waits for the queued ones to be served and then stops the worker.
func (t *ThreadedExecutor) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
}
