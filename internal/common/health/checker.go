package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Checker reports whether a component is healthy. A nil error means healthy.
type Checker interface {
	Check() error
}

// StartupCompleteChecker fails until MarkComplete is called.
type StartupCompleteChecker struct {
	complete atomic.Bool
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (c *StartupCompleteChecker) MarkComplete() {
	c.complete.Store(true)
}

func (c *StartupCompleteChecker) Check() error {
	if c.complete.Load() {
		return nil
	}
	return errors.New("startup is not complete")
}

// Pinger is anything that can check its connectivity, e.g. a database client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker fails when a Ping does not succeed within timeout.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, timeout: timeout}
}

func (c *PingChecker) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.pinger.Ping(ctx); err != nil {
		return errors.Wrapf(err, "%s is unreachable", c.name)
	}
	return nil
}

// FuncChecker adapts a plain function to Checker.
type FuncChecker func() error

func (f FuncChecker) Check() error {
	return f()
}
