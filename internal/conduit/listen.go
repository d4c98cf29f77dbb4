package conduit

import (
	"fmt"

	"github.com/G-Research/conduit/internal/common/certs"
	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/listener"
	"github.com/G-Research/conduit/internal/conduit/configuration"
)

// NewListener binds the client facing port and wraps it with rate limiting and TLS as configured. When TLS is on,
// the returned certificate service must be run for certificate files to be reloaded.
func NewListener(ctx *conduitcontext.Context, config configuration.ListenConfig) (listener.ConnectionListener, *certs.CachedCertificateService, error) {
	tcp, err := listener.Bind(ctx, fmt.Sprintf(":%d", config.Port), config.MaxConnections)
	if err != nil {
		return nil, nil, err
	}
	var l listener.ConnectionListener = tcp
	if config.AcceptRatePerSecond > 0 {
		burst := config.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		l = listener.NewRateLimitedListener(l, config.AcceptRatePerSecond, burst)
	}
	if !config.Tls.Enabled {
		return l, nil, nil
	}

	certService, err := certs.NewCachedCertificateService(
		config.Tls.CertPaths,
		config.Tls.KeyPath,
		config.Tls.RefreshInterval,
		conduitcontext.WithLogField(ctx, "component", "certs").Log,
	)
	if err != nil {
		_ = tcp.Close()
		return nil, nil, err
	}
	tlsListener := listener.NewReloadingTLSListener(l, certService)
	if config.HandshakeTimeout > 0 {
		tlsListener = tlsListener.WithHandshakeTimeout(config.HandshakeTimeout)
	}
	return tlsListener, certService, nil
}
