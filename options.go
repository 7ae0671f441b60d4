package linebus

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"time"
)

// ContextDialer is an interface for custom network dialing logic. It
// matches the signature of net.Dialer.DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// options holds the configuration for a Connection, assembled from a set
// of functional Options passed to Connect.
type options struct {
	Servers     []string
	NoRandomize bool

	MaxReconnects       int
	ReconnectWait       time.Duration
	ReconnectJitter     time.Duration
	ReconnectJitterTLS  time.Duration
	ConnectionTimeout   time.Duration
	ReconnectBufferSize int

	MaxMessagesInOutgoingQueue           int
	DiscardMessagesWhenOutgoingQueueFull bool
	BufferSize                           int

	PingInterval time.Duration
	MaxPingsOut  int

	Secure    bool
	TLSConfig *tls.Config

	Username string
	Password string
	Token    string
	// AuthSeed is an opaque seed used to derive a signature over the
	// server nonce, standing in for nkey-style challenge/response auth
	// material; see signNonce.
	AuthSeed string

	NoEcho bool
	Name   string

	MaxSubjectLength int
	MaxPayloadSize   int

	Dialer ContextDialer
	Logger *slog.Logger

	StatusHandler func(Status)
	ErrorHandler  func(error)
}

const (
	// DefaultMaxReconnects is unlimited.
	DefaultMaxReconnects      = -1
	DefaultReconnectWait      = 2 * time.Second
	DefaultReconnectJitter    = 100 * time.Millisecond
	DefaultReconnectJitterTLS = time.Second
	DefaultConnectionTimeout  = 2 * time.Second
	// DefaultReconnectBufferSize bounds publishes issued while
	// RECONNECTING; a publish that would cross it fails with
	// IllegalState.
	DefaultReconnectBufferSize = 8 * 1024 * 1024

	DefaultMaxMessagesInOutgoingQueue = 65536
	DefaultBufferSize                 = 32 * 1024

	DefaultPingInterval = 2 * time.Minute
	DefaultMaxPingsOut  = 2
)

// defaultOptions returns the baseline configuration applied before any
// Option is evaluated.
func defaultOptions() *options {
	return &options{
		MaxReconnects:              DefaultMaxReconnects,
		ReconnectWait:              DefaultReconnectWait,
		ReconnectJitter:            DefaultReconnectJitter,
		ReconnectJitterTLS:         DefaultReconnectJitterTLS,
		ConnectionTimeout:          DefaultConnectionTimeout,
		ReconnectBufferSize:        DefaultReconnectBufferSize,
		MaxMessagesInOutgoingQueue: DefaultMaxMessagesInOutgoingQueue,
		BufferSize:                 DefaultBufferSize,
		PingInterval:               DefaultPingInterval,
		MaxPingsOut:                DefaultMaxPingsOut,
		MaxSubjectLength:           DefaultMaxSubjectLength,
		MaxPayloadSize:             DefaultMaxPayloadSize,
		Logger:                     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Connection. Options are applied in order, so a later
// option overrides an earlier one touching the same field.
type Option func(*options)

// WithServers sets the candidate endpoint list. Accepted schemes are
// "nats", "tls" and "opentls" (secure endpoints whose TLS upgrade is
// deferred until the handshake's upgrade step rather than wrapped
// immediately at dial time).
func WithServers(servers ...string) Option {
	return func(o *options) { o.Servers = servers }
}

// WithNoRandomize preserves the configured server order instead of
// shuffling it once at Connect time, which pins which endpoint is tried
// first.
func WithNoRandomize() Option {
	return func(o *options) { o.NoRandomize = true }
}

// WithMaxReconnects caps the total number of reconnect attempts across the
// whole endpoint pool before the Connection transitions to CLOSED. -1
// (default) retries indefinitely.
func WithMaxReconnects(n int) Option {
	return func(o *options) { o.MaxReconnects = n }
}

// WithReconnectWait sets the delay between successive attempts on the same
// endpoint.
func WithReconnectWait(d time.Duration) Option {
	return func(o *options) { o.ReconnectWait = d }
}

// WithReconnectJitter sets the uniform random jitter added to
// ReconnectWait for plain endpoints (jitter) and TLS endpoints
// (jitterTLS) respectively; TLS handshakes are slower so a larger ceiling
// is usually warranted for the second value.
func WithReconnectJitter(jitter, jitterTLS time.Duration) Option {
	return func(o *options) {
		o.ReconnectJitter = jitter
		o.ReconnectJitterTLS = jitterTLS
	}
}

// WithConnectionTimeout bounds a single attempt's TCP connect + TLS
// handshake + INFO exchange.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) { o.ConnectionTimeout = d }
}

// WithReconnectBufferSize sets the byte budget for user publishes issued
// while RECONNECTING. 0 disables buffering (such a publish fails
// synchronously with IllegalState); -1 is unlimited; a positive N bounds
// it, and the publish that would cross N also fails with IllegalState
// while everything already buffered is retained.
func WithReconnectBufferSize(bytes int) Option {
	return func(o *options) { o.ReconnectBufferSize = bytes }
}

// WithMaxMessagesInOutgoingQueue caps the primary Write Queue's message
// count.
func WithMaxMessagesInOutgoingQueue(n int) Option {
	return func(o *options) { o.MaxMessagesInOutgoingQueue = n }
}

// WithDiscardMessagesWhenOutgoingQueueFull switches the Write Queue's
// overflow policy from blocking to discard-new: when the queue is full,
// Publish drops the message and returns an IllegalState error instead of
// blocking the caller.
func WithDiscardMessagesWhenOutgoingQueueFull() Option {
	return func(o *options) { o.DiscardMessagesWhenOutgoingQueueFull = true }
}

// WithBufferSize sets the Writer's serialization buffer cap in bytes; the
// buffer flushes to the transport once a batch would exceed it.
func WithBufferSize(bytes int) Option {
	return func(o *options) { o.BufferSize = bytes }
}

// WithPingInterval sets the keepalive cadence.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.PingInterval = d }
}

// WithMaxPingsOut sets the number of consecutive unanswered PINGs at which
// the connection is treated as a communication failure.
func WithMaxPingsOut(n int) Option {
	return func(o *options) { o.MaxPingsOut = n }
}

// WithSecure forces a TLS upgrade even for endpoints not explicitly marked
// tls:// or opentls://.
func WithSecure(config *tls.Config) Option {
	return func(o *options) {
		o.Secure = true
		o.TLSConfig = config
	}
}

// WithUserInfo sets username/password auth material sent in CONNECT.
func WithUserInfo(username, password string) Option {
	return func(o *options) {
		o.Username = username
		o.Password = password
	}
}

// WithToken sets a bearer auth token sent in CONNECT.
func WithToken(token string) Option {
	return func(o *options) { o.Token = token }
}

// WithCredentials sets the opaque seed used to sign the server nonce on
// connect and reconnect. The core treats the seed and the resulting
// signature as opaque material — it does not invent an authentication
// scheme.
func WithCredentials(seed string) Option {
	return func(o *options) { o.AuthSeed = seed }
}

// WithNoEcho suppresses delivery of this connection's own publishes back
// to itself.
func WithNoEcho() Option {
	return func(o *options) { o.NoEcho = true }
}

// WithName sets the client name advertised in CONNECT.
func WithName(name string) Option {
	return func(o *options) { o.Name = name }
}

// WithMaxSubjectLength overrides the default subject length enforced
// locally before a subject ever reaches the wire.
func WithMaxSubjectLength(max int) Option {
	return func(o *options) { o.MaxSubjectLength = max }
}

// WithMaxPayloadSize overrides the default local payload size cap. Once
// INFO has carried a positive max_payload, the server's value replaces
// this cap.
func WithMaxPayloadSize(max int) Option {
	return func(o *options) { o.MaxPayloadSize = max }
}

// WithDialer overrides the network dial logic (e.g. for proxying or
// testing) instead of using a plain net.Dialer.
func WithDialer(d ContextDialer) Option {
	return func(o *options) { o.Dialer = d }
}

// WithLogger sets the logger used for internal diagnostics. Defaults to a
// discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithStatusHandler registers the single callback that receives Status
// transitions (CONNECTED, DISCONNECTED, CLOSED, RECONNECTED,
// RESUBSCRIBED, DISCOVERED_SERVERS, LAME_DUCK). Delivery is sequential.
func WithStatusHandler(fn func(Status)) Option {
	return func(o *options) { o.StatusHandler = fn }
}

// WithErrorHandler registers a callback for asynchronous errors that are
// not synchronously returned to a caller: non-fatal server -ERR lines,
// slow-consumer drops, and per-endpoint reconnect failures.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.ErrorHandler = fn }
}
