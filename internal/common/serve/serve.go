package serve

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
)

const shutdownTimeout = 5 * time.Second

// ListenAndServe serves server until ctx is cancelled, then shuts it down gracefully.
func ListenAndServe(ctx *conduitcontext.Context, server *http.Server) error {
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return errors.WithStack(err)
	}
	return Serve(ctx, server, listener)
}

// Serve is ListenAndServe on an existing listener. The listener is closed on return.
func Serve(ctx *conduitcontext.Context, server *http.Server, listener net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		ctx.Log.Infof("Serving http on %s", listener.Addr())
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithStack(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := conduitcontext.WithTimeout(conduitcontext.New(context.Background(), ctx.Log), shutdownTimeout)
	defer cancel()
	ctx.Log.Infof("Stopping http server on %s", listener.Addr())
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WithStack(err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return nil
}
