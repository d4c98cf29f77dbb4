package listener

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimitedListener bounds the rate at which an inner listener hands out connections.
type RateLimitedListener struct {
	inner   ConnectionListener
	limiter *rate.Limiter
}

func NewRateLimitedListener(inner ConnectionListener, perSecond float64, burst int) *RateLimitedListener {
	return &RateLimitedListener{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *RateLimitedListener) Accept(ctx context.Context) (net.Conn, net.Addr, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return l.inner.Accept(ctx)
}

func (l *RateLimitedListener) Handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	return l.inner.Handshake(ctx, conn)
}

func (l *RateLimitedListener) Addr() net.Addr {
	return l.inner.Addr()
}

func (l *RateLimitedListener) Close() error {
	return l.inner.Close()
}
