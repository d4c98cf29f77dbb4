package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/conduit/internal/common/logging"
)

func echoRows(_ string, params []interface{}) [][]interface{} {
	n := params[0].(int)
	return [][]interface{}{{n, fmt.Sprintf("row-%d", n)}}
}

func TestExecuteThreaded_RepliesArePairedWithRequests(t *testing.T) {
	executor, server := newTestExecutor(t, DatabaseConfig{})
	server.rowsFor = echoRows
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	defer threaded.Close()

	const callers = 50
	var wg sync.WaitGroup
	results := make([][]numberRow, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: i})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []numberRow{{N: i, Label: fmt.Sprintf("row-%d", i)}}, results[i])
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, callers, server.queries)
	assert.Equal(t, 1, server.maxInFlight, "requests should be served one at a time")
}

func TestExecuteThreaded_ServesRequestsInSubmissionOrder(t *testing.T) {
	executor, server := newTestExecutor(t, DatabaseConfig{})
	server.rowsFor = echoRows
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	defer threaded.Close()

	for i := 0; i < 5; i++ {
		_, err := ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: i})
		require.NoError(t, err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, server.executed)
}

func TestExecuteThreaded_PropagatesErrors(t *testing.T) {
	executor, server := newTestExecutor(t, DatabaseConfig{})
	server.failNextQueries(mismatchError(), mismatchError())
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	defer threaded.Close()

	_, err := ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: 1})
	assert.True(t, IsSchemaMismatch(err))
}

func TestExecuteThreaded_AfterCloseReturnsErrExecutorClosed(t *testing.T) {
	executor, _ := newTestExecutor(t, DatabaseConfig{})
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	threaded.Close()
	threaded.Close()

	_, err := ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: 1})
	assert.True(t, errors.Is(err, ErrExecutorClosed))
}

func TestExecuteThreaded_CallerGivesUpWaiting(t *testing.T) {
	executor, server := newTestExecutor(t, DatabaseConfig{StatementTimeout: time.Second})
	server.blockQuery = true
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	defer threaded.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ExecuteThreaded[numberRow](ctx, threaded, numbersRequest{limit: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThreadedExecutor_QueueDepthIsRestoredWhenSubmitGivesUp(t *testing.T) {
	// No worker drains this queue, so the send can never complete.
	threaded := &ThreadedExecutor{queue: make(chan workItem), done: make(chan struct{}), log: logging.NullEntry()}
	before := testutil.ToFloat64(threadedQueueDepth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := threaded.submit(ctx, func(context.Context, *PooledExecutor) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, testutil.ToFloat64(threadedQueueDepth))
}

func TestThreadedExecutor_QueueDepthReturnsToZeroOnceServed(t *testing.T) {
	executor, _ := newTestExecutor(t, DatabaseConfig{})
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	before := testutil.ToFloat64(threadedQueueDepth)

	for i := 0; i < 10; i++ {
		_, err := ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: 1})
		require.NoError(t, err)
	}
	threaded.Close()
	assert.Equal(t, before, testutil.ToFloat64(threadedQueueDepth))
}

func TestExecuteThreaded_DroppedReplyPanicsAndWorkerSurvives(t *testing.T) {
	executor, _ := newTestExecutor(t, DatabaseConfig{})
	threaded := NewThreadedExecutor(executor, logging.NullEntry())
	defer threaded.Close()

	assert.Panics(t, func() {
		_, _ = ExecuteThreaded[int](context.Background(), threaded, panickingRequest{})
	})

	rows, err := ExecuteThreaded[numberRow](context.Background(), threaded, numbersRequest{limit: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestClient_DispatchesToConfiguredExecutor(t *testing.T) {
	for _, mode := range []Mode{PooledMode, ThreadedMode} {
		t.Run(string(mode), func(t *testing.T) {
			executor, _ := newTestExecutor(t, DatabaseConfig{Host: "db", Port: 5432, Dbname: "conduit"})
			client := NewClient(mode, executor, logging.NullEntry())
			defer client.Close()

			assert.Equal(t, mode, client.Mode())
			assert.Equal(t, DatabaseConfig{Host: "db", Port: 5432, Dbname: "conduit"}.ConnHash(), client.ConnHash())
			assert.NoError(t, client.Ping(context.Background()))

			rows, err := Execute[numberRow](context.Background(), client, numbersRequest{limit: 3})
			require.NoError(t, err)
			assert.Len(t, rows, 3)
		})
	}
}

func TestMode_UnmarshalText(t *testing.T) {
	var mode Mode
	require.NoError(t, mode.UnmarshalText([]byte("Threaded")))
	assert.Equal(t, ThreadedMode, mode)
	assert.Error(t, mode.UnmarshalText([]byte("sharded")))
}
