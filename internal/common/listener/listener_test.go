package listener

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/conduit/internal/common/certs"
	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/logging"
)

func TestTCPListener_AcceptAndIdentityHandshake(t *testing.T) {
	ctx := context.Background()
	l, err := Bind(ctx, "127.0.0.1:0", 0)
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, addr, err := l.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), addr.String())

	upgraded, err := l.Handshake(ctx, conn)
	require.NoError(t, err)
	assert.Same(t, conn, upgraded)
}

func TestTCPListener_AcceptWithCancelledContext(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0", 1)
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTLSListener_EmptyCertificateFileFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	_, _, keyData := certs.CreateTestCertificate()
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, nil, 0o644))
	require.NoError(t, os.WriteFile(keyPath, keyData, 0o600))

	inner := &recordingListener{}
	_, err := NewTLSListener(inner, []string{certPath}, keyPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no certificates found")
	assert.Equal(t, 0, inner.accepts)
}

func TestTLSListener_MissingKeyFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	_, certData, _ := certs.CreateTestCertificate()
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, certData, 0o644))
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

	_, err := NewTLSListener(&recordingListener{}, []string{certPath}, keyPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key found")
}

func TestTLSListener_Handshake(t *testing.T) {
	ctx := context.Background()
	l, pool := newTestTLSListener(t)
	defer l.Close()

	go func() {
		conn, err := tls.Dial("tcp", l.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("hello\n"))
		_, _ = bufio.NewReader(conn).ReadString('\n')
	}()

	conn, _, err := l.Accept(ctx)
	require.NoError(t, err)
	upgraded, err := l.Handshake(ctx, conn)
	require.NoError(t, err)
	defer upgraded.Close()
	assert.IsType(t, &tls.Conn{}, upgraded)

	line, err := bufio.NewReader(upgraded).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
	_, err = upgraded.Write([]byte("bye\n"))
	assert.NoError(t, err)
}

func TestTLSListener_FailedHandshakeDoesNotStopListener(t *testing.T) {
	ctx := context.Background()
	l, pool := newTestTLSListener(t)
	defer l.Close()

	// A plaintext client fails the handshake.
	plain, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, _ = plain.Write([]byte("GET / HTTP/1.1\r\n\r\n"))

	conn, _, err := l.Accept(ctx)
	require.NoError(t, err)
	_, err = l.Handshake(ctx, conn)
	assert.Error(t, err)
	plain.Close()

	// The listener keeps serving well-behaved peers.
	go func() {
		conn, err := tls.Dial("tcp", l.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if err == nil {
			_, _ = conn.Write([]byte("ok\n"))
			time.Sleep(100 * time.Millisecond)
			conn.Close()
		}
	}()
	conn, _, err = l.Accept(ctx)
	require.NoError(t, err)
	upgraded, err := l.Handshake(ctx, conn)
	require.NoError(t, err)
	upgraded.Close()
}

func TestTLSListener_HandshakeTimeout(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestTLSListener(t)
	l.WithHandshakeTimeout(50 * time.Millisecond)
	defer l.Close()

	silent, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	conn, _, err := l.Accept(ctx)
	require.NoError(t, err)
	start := time.Now()
	_, err = l.Handshake(ctx, conn)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNetListener_SkipsFailedHandshakes(t *testing.T) {
	l, pool := newTestTLSListener(t)
	netListener := NewNetListener(conduitcontext.New(context.Background(), logging.NullEntry()), l)
	defer netListener.Close()

	plain, err := net.Dial("tcp", netListener.Addr().String())
	require.NoError(t, err)
	_, _ = plain.Write([]byte("garbage"))
	defer plain.Close()

	go func() {
		conn, err := tls.Dial("tcp", netListener.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost"})
		if err == nil {
			_, _ = conn.Write([]byte("ok\n"))
			time.Sleep(200 * time.Millisecond)
			conn.Close()
		}
	}()

	conn, err := netListener.Accept()
	require.NoError(t, err)
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok\n", line)
}

func TestNetListener_CloseUnblocksAccept(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0", 0)
	require.NoError(t, err)
	netListener := NewNetListener(conduitcontext.New(context.Background(), logging.NullEntry()), l)

	done := make(chan error, 1)
	go func() {
		_, err := netListener.Accept()
		done <- err
	}()
	require.NoError(t, netListener.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

type failingOnceListener struct {
	ConnectionListener
	failed bool
}

func (l *failingOnceListener) Accept(ctx context.Context) (net.Conn, net.Addr, error) {
	if !l.failed {
		l.failed = true
		return nil, nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.ConnectionListener.Accept(ctx)
}

func TestNetListener_RetriesTemporaryAcceptErrors(t *testing.T) {
	tcp, err := Bind(context.Background(), "127.0.0.1:0", 0)
	require.NoError(t, err)
	netListener := NewNetListener(conduitcontext.New(context.Background(), logging.NullEntry()), &failingOnceListener{ConnectionListener: tcp})
	defer netListener.Close()

	client, err := net.Dial("tcp", netListener.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, err := netListener.Accept()
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())
}

func TestNetListener_StopsOnPermanentAcceptError(t *testing.T) {
	netListener := NewNetListener(conduitcontext.New(context.Background(), logging.NullEntry()), &recordingListener{})
	defer netListener.Close()

	_, err := netListener.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestRateLimitedListener(t *testing.T) {
	l, err := Bind(context.Background(), "127.0.0.1:0", 0)
	require.NoError(t, err)
	limited := NewRateLimitedListener(l, 0.001, 1)
	defer limited.Close()

	client, err := net.Dial("tcp", limited.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, _, err := limited.Accept(context.Background())
	require.NoError(t, err)
	conn.Close()

	// The single token is spent; the next accept cannot complete within the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = limited.Accept(ctx)
	assert.Error(t, err)
}

func newTestTLSListener(t *testing.T) (*TLSListener, *x509.CertPool) {
	t.Helper()
	dir := t.TempDir()
	cert, certData, keyData := certs.CreateTestCertificate()
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, certData, 0o644))
	require.NoError(t, os.WriteFile(keyPath, keyData, 0o600))

	tcp, err := Bind(context.Background(), "127.0.0.1:0", 0)
	require.NoError(t, err)
	l, err := NewTLSListener(tcp, []string{certPath}, keyPath)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return l, pool
}

type recordingListener struct {
	accepts int
}

func (r *recordingListener) Accept(_ context.Context) (net.Conn, net.Addr, error) {
	r.accepts++
	return nil, nil, net.ErrClosed
}

func (r *recordingListener) Handshake(_ context.Context, conn net.Conn) (net.Conn, error) {
	return conn, nil
}

func (r *recordingListener) Addr() net.Addr {
	return &net.TCPAddr{}
}

func (r *recordingListener) Close() error {
	return nil
}
