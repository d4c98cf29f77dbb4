package database

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

type Mode string

const (
	PooledMode   Mode = "pooled"
	ThreadedMode Mode = "threaded"
)

func (m *Mode) UnmarshalText(text []byte) error {
	switch mode := Mode(strings.ToLower(string(text))); mode {
	case PooledMode, ThreadedMode:
		*m = mode
		return nil
	}
	return errors.WithStack(&conduiterrors.ErrInvalidArgument{
		Name:    "mode",
		Value:   string(text),
		Message: "expected pooled or threaded",
	})
}

// Client runs requests either directly on a PooledExecutor or through a ThreadedExecutor wrapping one.
type Client struct {
	pooled   *PooledExecutor
	threaded *ThreadedExecutor
}

func NewPooledClient(pooled *PooledExecutor) *Client {
	return &Client{pooled: pooled}
}

func NewThreadedClient(pooled *PooledExecutor, logger *log.Entry) *Client {
	return &Client{pooled: pooled, threaded: NewThreadedExecutor(pooled, logger)}
}

func NewClient(mode Mode, pooled *PooledExecutor, logger *log.Entry) *Client {
	if mode == ThreadedMode {
		return NewThreadedClient(pooled, logger)
	}
	return NewPooledClient(pooled)
}

func (c *Client) Mode() Mode {
	if c.threaded != nil {
		return ThreadedMode
	}
	return PooledMode
}

// Execute runs req through client and returns its rows in result order.
func Execute[R any](ctx context.Context, client *Client, req Request[R]) ([]R, error) {
	if client.threaded != nil {
		return ExecuteThreaded(ctx, client.threaded, req)
	}
	return ExecutePooled(ctx, client.pooled, req)
}

func (c *Client) ConnHash() uint64 {
	return c.pooled.ConnHash()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.pooled.Ping(ctx)
}

func (c *Client) Stat() PoolStats {
	return c.pooled.Stat()
}

// Close stops the worker, if any, and then closes the pool.
func (c *Client) Close() {
	if c.threaded != nil {
		c.threaded.Close()
	}
	c.pooled.Close()
}
