package listener

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/certs"
)

const DefaultHandshakeTimeout = 10 * time.Second

// TLSListener wraps an inner listener and layers a server-side TLS handshake over the inner listener's own handshake.
type TLSListener struct {
	inner            ConnectionListener
	config           *tls.Config
	handshakeTimeout time.Duration
}

// NewTLSListener loads the certificate chain from certPaths and the private key from keyPath.
// Missing, empty or malformed material is a configuration error and is reported here, before anything is accepted.
func NewTLSListener(inner ConnectionListener, certPaths []string, keyPath string) (*TLSListener, error) {
	cert, err := certs.LoadKeyPair(certPaths, keyPath)
	if err != nil {
		return nil, err
	}
	return newTLSListener(inner, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// NewReloadingTLSListener serves whatever certificate certService currently holds.
func NewReloadingTLSListener(inner ConnectionListener, certService *certs.CachedCertificateService) *TLSListener {
	return newTLSListener(inner, &tls.Config{
		GetCertificate: certService.GetCertificateFunc,
		MinVersion:     tls.VersionTLS12,
	})
}

func newTLSListener(inner ConnectionListener, config *tls.Config) *TLSListener {
	return &TLSListener{
		inner:            inner,
		config:           config,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
}

// WithHandshakeTimeout bounds how long a single peer may take to complete the TLS handshake.
func (l *TLSListener) WithHandshakeTimeout(timeout time.Duration) *TLSListener {
	l.handshakeTimeout = timeout
	return l
}

func (l *TLSListener) Accept(ctx context.Context) (net.Conn, net.Addr, error) {
	return l.inner.Accept(ctx)
}

func (l *TLSListener) Handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	inner, err := l.inner.Handshake(ctx, conn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()
	tlsConn := tls.Server(inner, l.config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		handshakeFailures.WithLabelValues("tls").Inc()
		_ = inner.Close()
		return nil, errors.Wrapf(err, "tls handshake with %s failed", conn.RemoteAddr())
	}
	return tlsConn, nil
}

func (l *TLSListener) Addr() net.Addr {
	return l.inner.Addr()
}

func (l *TLSListener) Close() error {
	return l.inner.Close()
}
