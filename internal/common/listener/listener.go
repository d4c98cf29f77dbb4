// Package listener provides connection listeners whose transport upgrades compose by wrapping. Every listener
// exposes the same two operations: Accept, which returns a raw connection, and Handshake, which upgrades a raw
// connection into the channel the application talks to. Decorators (TLS, rate limiting) wrap an inner listener
// and run its Handshake before their own.
package listener

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

type ConnectionListener interface {
	// Accept waits for the next raw connection. It does not observe ctx once blocked; Close unblocks it.
	Accept(ctx context.Context) (net.Conn, net.Addr, error)
	// Handshake upgrades a connection returned by Accept. A failure only concerns that connection.
	Handshake(ctx context.Context, conn net.Conn) (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// TCPListener is the plain listener: Accept returns the TCP connection and Handshake is the identity.
type TCPListener struct {
	listener net.Listener
}

// Bind listens on addr. If maxConnections is positive, at most that many accepted connections may be open at once;
// further accepts block until one is closed.
func Bind(ctx context.Context, addr string, maxConnections int) (*TCPListener, error) {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	if maxConnections > 0 {
		l = netutil.LimitListener(l, maxConnections)
	}
	return &TCPListener{listener: l}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (net.Conn, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, nil, err
	}
	acceptedConnections.WithLabelValues("tcp").Inc()
	return conn, conn.RemoteAddr(), nil
}

func (l *TCPListener) Handshake(_ context.Context, conn net.Conn) (net.Conn, error) {
	return conn, nil
}

func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *TCPListener) Close() error {
	return l.listener.Close()
}
