package linebus

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync/atomic"
)

// transport is a byte conduit to one endpoint. It does not interpret the
// wire protocol; it only opens/closes the socket, optionally upgrades to
// TLS, and counts bytes for Stats.
type transport struct {
	conn net.Conn

	bytesSent     *atomic.Uint64
	bytesReceived *atomic.Uint64
}

// dial opens a connection to endpoint, wrapping it in TLS immediately for
// SchemeTLS (or when opts.Secure forces it). SchemeOpenTLS is returned
// plain; the caller is expected to call upgradeToSecure once the INFO
// exchange says the server requires it. A Dialer set with WithDialer
// replaces the whole dial step: its connection is returned as is, with no
// TLS wrap for SchemeTLS or opts.Secure.
func dial(ctx context.Context, endpoint Endpoint, opts *options, stats *connStats) (*transport, error) {
	addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port))

	dialer := opts.Dialer
	var conn net.Conn
	var err error

	useTLS := endpoint.Scheme == SchemeTLS || opts.Secure

	switch {
	case dialer != nil:
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	case useTLS:
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		td := &tls.Dialer{Config: cfg}
		conn, err = td.DialContext(ctx, "tcp", addr)
	default:
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, wrapError(KindIO, "dial failed", err)
	}

	return &transport{conn: conn, bytesSent: &stats.bytesSent, bytesReceived: &stats.bytesReceived}, nil
}

// upgradeToSecure wraps an already-open plain connection in TLS. It is a
// no-op if the connection is already TLS (dialed as SchemeTLS or under
// WithSecure). dialOne invokes it for SchemeOpenTLS endpoints after INFO
// says tls_required, and for every endpoint when WithSecure is set.
func (t *transport) upgradeToSecure(cfg *tls.Config) error {
	if _, ok := t.conn.(*tls.Conn); ok {
		return nil
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	tlsConn := tls.Client(t.conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return wrapError(KindTLS, "tls handshake failed", err)
	}
	t.conn = tlsConn
	return nil
}

func (t *transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if n > 0 {
		t.bytesReceived.Add(uint64(n))
	}
	return n, err
}

func (t *transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if n > 0 {
		t.bytesSent.Add(uint64(n))
	}
	return n, err
}

func (t *transport) Close() error {
	return t.conn.Close()
}
