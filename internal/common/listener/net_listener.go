package listener

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/logging"
)

// NetListener adapts a ConnectionListener to net.Listener so it can be handed to http.Server.
// Handshakes run concurrently, so a slow or hostile peer cannot stall accepting others, and a failed handshake
// drops only that connection.
type NetListener struct {
	inner  ConnectionListener
	ctx    *conduitcontext.Context
	cancel func()
	conns  chan net.Conn
	errs   chan error
	once   sync.Once
	wg     sync.WaitGroup
}

func NewNetListener(ctx *conduitcontext.Context, inner ConnectionListener) *NetListener {
	ctx, cancel := conduitcontext.WithCancel(ctx)
	l := &NetListener{
		inner:  inner,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(chan net.Conn),
		errs:   make(chan error, 1),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

func (l *NetListener) acceptLoop() {
	defer l.wg.Done()
	var backoff time.Duration
	for {
		conn, addr, err := l.inner.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if isTemporary(err) {
				backoff = nextBackoff(backoff)
				l.ctx.Log.WithError(err).Warnf("accept error; retrying in %s", backoff)
				time.Sleep(backoff)
				continue
			}
			l.errs <- err
			return
		}
		backoff = 0

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			upgraded, err := l.inner.Handshake(l.ctx, conn)
			if err != nil {
				logging.WithStacktrace(l.ctx.Log.WithField("peer", addr.String()), err).Warn("dropping connection")
				_ = conn.Close()
				return
			}
			select {
			case l.conns <- upgraded:
			case <-l.ctx.Done():
				_ = upgraded.Close()
			}
		}()
	}
}

// isTemporary reports accept failures worth retrying, such as timeouts and running out of file descriptors.
func isTemporary(err error) bool {
	var ne net.Error
	if !errors.As(err, &ne) {
		return false
	}
	if ne.Timeout() {
		return true
	}
	t, ok := ne.(interface{ Temporary() bool })
	return ok && t.Temporary()
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	if current *= 2; current > time.Second {
		return time.Second
	}
	return current
}

func (l *NetListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case err := <-l.errs:
		return nil, err
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close stops accepting and waits for in-flight handshakes to finish or be abandoned.
func (l *NetListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.inner.Close()
		l.wg.Wait()
	})
	return err
}

func (l *NetListener) Addr() net.Addr {
	return l.inner.Addr()
}
