package linebus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/anvilio/linebus/internal/proto"
)

// State is the Connection's current lifecycle position.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection owns the transport, line reader, write queues, writer,
// subscription registry and reconnector for a single logical client
// session, and implements the top-level state machine and public API
// (§4.G).
type Connection struct {
	opts  *options
	stats connStats

	status *statusBroadcaster

	mu         sync.RWMutex
	state      State
	transport  *transport
	endpoint   Endpoint
	serverInfo *proto.ServerInfo

	pool         *Pool
	registry     *registry
	primaryQ     *writeQueue
	reconnectQ   *writeQueue
	wtr          *writer
	reconnectBuf *reconnectBuffer

	inboxPrefix string
	inboxSID    uint64
	requestsMu  sync.Mutex
	requests    map[string]chan *Message

	pongMu      sync.Mutex
	pongWaiters []chan struct{}

	dispatchersMu sync.Mutex
	dispatchers   map[string]*Dispatcher

	commFailure chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeDone chan struct{}
	closeErr  error

	group       *errgroup.Group
	groupCtx    context.Context
	groupCancel context.CancelFunc
}

// Connect dials the configured servers, performs the INFO/CONNECT
// handshake, and returns a live Connection. It blocks for at most
// ConnectionTimeout per candidate endpoint.
func Connect(ctx context.Context, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	o.Logger = o.Logger.With("lib", "linebus")

	pool, err := NewPool(o.Servers, o.NoRandomize)
	if err != nil {
		return nil, err
	}
	if pool.Len() == 0 {
		return nil, ErrNoServers
	}

	groupCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(groupCtx)

	c := &Connection{
		opts:         o,
		status:       newStatusBroadcaster(o.StatusHandler),
		pool:         pool,
		registry:     newRegistry(),
		primaryQ:     newWriteQueue(o.MaxMessagesInOutgoingQueue, 0, o.DiscardMessagesWhenOutgoingQueueFull),
		reconnectQ:   newWriteQueue(0, 0, false),
		reconnectBuf: newReconnectBuffer(o.ReconnectBufferSize),
		requests:     make(map[string]chan *Message),
		dispatchers:  make(map[string]*Dispatcher),
		commFailure:  make(chan struct{}, 1),
		closed:       make(chan struct{}),
		closeDone:    make(chan struct{}),
		group:        g,
		groupCtx:     gctx,
		groupCancel:  cancel,
	}
	c.inboxPrefix = newInboxPrefix()
	c.wtr = newWriter(c.primaryQ, c.reconnectQ, o.BufferSize, func(err error) { c.onCommFailure(err) })

	t, ep, info, err := c.dialPool(ctx, pool.Snapshot())
	if err != nil {
		cancel()
		return nil, err
	}
	c.transport = t
	c.endpoint = ep
	c.serverInfo = info
	c.state = StateConnected

	if err := c.handshake(ctx, t, info); err != nil {
		t.Close()
		cancel()
		return nil, err
	}

	c.subscribeInbox()
	c.wtr.start(t)

	g.Go(func() error { c.readLoop(t); return nil })
	g.Go(func() error { c.reconnectLoop(gctx); return nil })
	g.Go(func() error { c.keepaliveLoop(gctx); return nil })

	c.status.fire(Connected)
	return c, nil
}

// dialPool tries each endpoint in order until one succeeds or the pool is
// exhausted, returning the live transport plus the negotiated ServerInfo.
func (c *Connection) dialPool(ctx context.Context, endpoints []Endpoint) (*transport, Endpoint, *proto.ServerInfo, error) {
	for _, ep := range endpoints {
		t, info, err := c.dialOne(ctx, ep)
		if err != nil {
			continue
		}
		return t, ep, info, nil
	}
	return nil, Endpoint{}, nil, ErrNoServers
}

// dialOne attempts a single endpoint: TCP connect, INFO read, and the TLS
// upgrade step for opentls:// or forced-secure endpoints. Shared by the
// initial Connect and every Reconnector attempt.
func (c *Connection) dialOne(ctx context.Context, ep Endpoint) (*transport, *proto.ServerInfo, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectionTimeout)
	defer cancel()

	t, err := dial(attemptCtx, ep, c.opts, &c.stats)
	if err != nil {
		return nil, nil, err
	}
	if deadline, ok := attemptCtx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
	}

	info, err := c.readInfo(t)
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	if (ep.Scheme == SchemeOpenTLS && info.TLSRequired) || (c.opts.Secure && ep.Scheme != SchemeTLS) {
		if err := t.upgradeToSecure(c.opts.TLSConfig); err != nil {
			t.Close()
			return nil, nil, err
		}
	}
	_ = t.conn.SetDeadline(time.Time{})
	return t, info, nil
}

// readInfo reads the single INFO line a server sends immediately after
// accepting a connection.
func (c *Connection) readInfo(t *transport) (*proto.ServerInfo, error) {
	lr := proto.NewLineReader(t, 4096)
	op, _, info, _, err := lr.ReadOp()
	if err != nil {
		return nil, wrapError(KindProtocolError, "failed to read INFO", err)
	}
	if op != proto.OpInfo {
		return nil, wrapError(KindProtocolError, "expected INFO as first frame", nil)
	}
	return info, nil
}

// handshake sends CONNECT (signing the server nonce if auth material and a
// nonce are both present) and returns once it's written. Verbose mode is
// off by default, so the server's +OK/-ERR acknowledgement, if any, is
// just another line the Reader classifies later rather than something
// this call waits for.
func (c *Connection) handshake(ctx context.Context, t *transport, info *proto.ServerInfo) error {
	frame, err := c.buildConnect(info)
	if err != nil {
		return err
	}
	if _, err := t.Write(append(frame, proto.CRLF...)); err != nil {
		return wrapError(KindIO, "failed to send CONNECT", err)
	}
	return nil
}

type connectFields struct {
	Verbose     bool   `json:"verbose"`
	Pedantic    bool   `json:"pedantic"`
	TLSRequired bool   `json:"tls_required"`
	AuthToken   string `json:"auth_token,omitempty"`
	User        string `json:"user,omitempty"`
	Pass        string `json:"pass,omitempty"`
	Sig         string `json:"sig,omitempty"`
	Name        string `json:"name,omitempty"`
	Lang        string `json:"lang"`
	Version     string `json:"version"`
	Protocol    int    `json:"protocol"`
	Headers     bool   `json:"headers"`
	Echo        bool   `json:"echo"`
}

func (c *Connection) buildConnect(info *proto.ServerInfo) ([]byte, error) {
	f := connectFields{
		TLSRequired: info.TLSRequired,
		User:        c.opts.Username,
		Pass:        c.opts.Password,
		AuthToken:   c.opts.Token,
		Name:        c.opts.Name,
		Lang:        "go",
		Version:     moduleVersion,
		Protocol:    1,
		Headers:     true,
		Echo:        !c.opts.NoEcho,
	}
	if c.opts.AuthSeed != "" && info.Nonce != "" {
		sig, err := signNonce(c.opts.AuthSeed, info.Nonce)
		if err != nil {
			return nil, err
		}
		f.Sig = sig
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, wrapError(KindIllegalState, "failed to encode CONNECT", err)
	}
	return append([]byte("CONNECT "), body...), nil
}

const moduleVersion = "0.1.0"

func newInboxPrefix() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "_INBOX." + hex.EncodeToString(b[:]) + "."
}

// State returns the Connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close cancels all background tasks, fails pending requests with
// ErrClosed, and releases the transport. It is idempotent and blocks
// until teardown has fully completed.
func (c *Connection) Close() error {
	c.closeAsync()
	<-c.closeDone
	return c.closeErr
}

// closeAsync runs the synchronous half of teardown — state transition,
// failing pending requests, releasing the transport, stopping the Writer
// and queues, and cancelling the group context — then finishes the rest
// (waiting for the Reader/Reconnector/Keepalive goroutines to return and
// closing every Dispatcher) on a goroutine outside the errgroup.
//
// It must be used instead of Close by anything invoked from a goroutine
// that is itself a member of c.group (the Reconnector on MaxReconnects
// exhaustion, the Reader on an auth-class -ERR): group.Wait() can never
// return while the goroutine calling it is still on the stack above the
// call, so those call sites trigger teardown and return, letting the
// finishing goroutine observe their exit instead of waiting on itself.
func (c *Connection) closeAsync() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closed)

		c.requestsMu.Lock()
		for token, ch := range c.requests {
			close(ch)
			delete(c.requests, token)
		}
		c.requestsMu.Unlock()

		c.mu.RLock()
		t := c.transport
		c.mu.RUnlock()
		if t != nil {
			t.Close()
		}

		<-c.wtr.stop()
		c.primaryQ.close()
		c.reconnectQ.close()

		c.groupCancel()

		go func() {
			retErr := c.group.Wait()

			c.dispatchersMu.Lock()
			dispatchers := make([]*Dispatcher, 0, len(c.dispatchers))
			for _, d := range c.dispatchers {
				dispatchers = append(dispatchers, d)
			}
			c.dispatchersMu.Unlock()
			for _, d := range dispatchers {
				retErr = multierr.Append(retErr, d.Close())
			}

			c.status.fire(Closed)
			c.status.close()

			c.closeErr = retErr
			close(c.closeDone)
		}()
	})
}

// Drain unsubscribes from everything, flushes pending publishes, then
// closes the Connection.
func (c *Connection) Drain(ctx context.Context) error {
	for _, sub := range c.registry.snapshot() {
		_ = c.unsubscribe(sub, -1)
	}
	if err := c.Flush(ctx); err != nil {
		return err
	}
	return c.Close()
}

// Flush synchronously awaits acknowledgement that every publish enqueued
// before the call has been transmitted, via a round-trip PING/PONG on a
// FIFO of waiters (§4.G).
func (c *Connection) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	c.pongMu.Lock()
	c.pongWaiters = append(c.pongWaiters, ch)
	c.pongMu.Unlock()

	if !c.primaryQ.push(proto.NewPing()) {
		return ErrDisconnected
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	case <-c.closed:
		return ErrClosed
	}
}
