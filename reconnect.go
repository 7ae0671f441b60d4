package linebus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/multierr"

	"github.com/anvilio/linebus/internal/proto"
)

// reconnector drives recovery after a communication-issue signal: endpoint
// pool iteration with per-endpoint circuit breaking, backoff, resubscribe
// replay, and reconnect-buffer splicing (§4.F).
type reconnector struct {
	conn *Connection

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func newReconnector(conn *Connection) *reconnector {
	return &reconnector{conn: conn, breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}])}
}

func (r *reconnector) breakerFor(ep Endpoint) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ep.String()
	b, ok := r.breakers[key]
	if !ok {
		b = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        key,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		r.breakers[key] = b
	}
	return b
}

// onCommFailure marks the Connection RECONNECTING (a no-op if it already
// is, or if it's CLOSED) and wakes the reconnect loop. Called from either
// the Reader or the Writer's onError path — both funnel communication
// issues through this single entry point (§7).
func (c *Connection) onCommFailure(err error) {
	c.mu.Lock()
	already := c.state == StateReconnecting || c.state == StateClosed
	if !already {
		c.state = StateReconnecting
	}
	c.mu.Unlock()
	if already {
		return
	}

	c.reportError(err)
	c.wtr.setReconnectMode(true)
	c.primaryQ.pause()
	c.purgeStalePings()

	select {
	case c.commFailure <- struct{}{}:
	default:
	}
	c.status.fire(Disconnected)
}

// purgeStalePings drops any queued PING/PONG from the primary queue and
// forgets every pending Flush/keepalive waiter. A PING queued before the
// disconnect has no PONG coming until the server round-trip resumes after
// reconnect, and its waiter would otherwise linger and be completed by
// the wrong PONG, scrambling the FIFO order handlePong relies on once the
// queue starts flowing again (§4.C, §4.G). Forgotten waiters are not
// closed: the PING they were waiting on was never acknowledged, so the
// caller's own deadline (Flush's ctx, keepaliveLoop's per-PING timeout) is what
// should end their wait, not a false success signal here.
func (c *Connection) purgeStalePings() {
	c.primaryQ.filter(func(m *proto.OutMsg) bool {
		return string(m.Proto) == "PING" || string(m.Proto) == "PONG"
	})

	c.pongMu.Lock()
	c.pongWaiters = nil
	c.pongMu.Unlock()
}

// reconnectLoop is the Reconnector task: it waits for a communication
// failure signal and drives the endpoint pool until either a new transport
// is live again or the Connection gives up and transitions to CLOSED.
func (c *Connection) reconnectLoop(ctx context.Context) {
	r := newReconnector(c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-c.commFailure:
			r.run(ctx)
		}
	}
}

// run iterates the endpoint pool until it reconnects or exhausts
// MaxReconnects across the whole pool (aggregate, per §4.F).
func (r *reconnector) run(ctx context.Context) {
	c := r.conn
	opts := c.opts
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		var passErr error
		snapshot := c.pool.Snapshot()
		for _, ep := range snapshot {
			if opts.MaxReconnects >= 0 && attempts >= opts.MaxReconnects {
				c.transitionClosed()
				return
			}
			attempts++

			if !r.sleepBackoff(ctx, ep) {
				return
			}

			breaker := r.breakerFor(ep)
			_, err := breaker.Execute(func() (struct{}, error) {
				t, info, dialErr := c.dialOne(ctx, ep)
				if dialErr != nil {
					return struct{}{}, dialErr
				}
				finishErr := c.finishReconnect(ctx, t, ep, info)
				return struct{}{}, finishErr
			})
			if err != nil {
				passErr = multierr.Append(passErr, wrapError(KindDisconnected, "reconnect attempt failed for "+ep.String(), err))
				c.pool.Advance(ep)
				continue
			}
			return // reconnected
		}
		if passErr != nil {
			c.reportError(passErr)
		}
	}
}

func (r *reconnector) sleepBackoff(ctx context.Context, ep Endpoint) bool {
	c := r.conn
	wait := c.opts.ReconnectWait
	jitter := c.opts.ReconnectJitter
	if ep.Scheme != SchemePlain {
		jitter = c.opts.ReconnectJitterTLS
	}
	if jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(jitter)))
	}

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

// finishReconnect performs the CONNECT handshake on a freshly dialed
// transport, replays subscription state and buffered publishes ahead of
// the Writer resuming, starts a Reader on the new transport, and fires the
// success status sequence.
func (c *Connection) finishReconnect(ctx context.Context, t *transport, ep Endpoint, info *proto.ServerInfo) error {
	if err := c.handshake(ctx, t, info); err != nil {
		t.Close()
		return err
	}

	<-c.wtr.stop()

	c.mu.Lock()
	c.transport = t
	c.endpoint = ep
	c.serverInfo = info
	c.mu.Unlock()

	c.pool.Advance(ep)
	discovered := c.mergeDiscovered(info)

	for _, sub := range c.registry.snapshot() {
		c.reconnectQ.push(proto.NewSub(sub.Subject, sub.Queue, sub.SID))
		sub.mu.Lock()
		remaining := sub.autoUnsub
		sub.mu.Unlock()
		if remaining > 0 {
			c.reconnectQ.push(proto.NewUnsub(sub.SID, remaining))
		}
	}
	for _, msg := range c.reconnectBuf.drain() {
		c.reconnectQ.push(msg)
	}

	c.wtr.start(t)

	// A condition-variable signal off the queue's own cond would match the
	// write queue's wait/notify idiom better than polling, but draining the
	// reconnect queue happens once per reconnect and is short, so the poll
	// is not worth the extra plumbing it would take to expose.
	for !c.reconnectQ.isEmpty() {
		time.Sleep(5 * time.Millisecond)
	}
	c.wtr.setReconnectMode(false)
	c.primaryQ.resume()

	c.stats.reconnects.Add(1)
	c.setState(StateConnected)
	c.group.Go(func() error { c.readLoop(t); return nil })

	c.status.fire(Reconnected)
	c.status.fire(Resubscribed)
	if discovered {
		c.status.fire(DiscoveredServers)
	}
	return nil
}

func (c *Connection) mergeDiscovered(info *proto.ServerInfo) bool {
	if len(info.ConnectURLs) == 0 {
		return false
	}
	learned := make([]Endpoint, 0, len(info.ConnectURLs))
	for _, raw := range info.ConnectURLs {
		ep, err := parseEndpoint(raw)
		if err != nil {
			continue
		}
		learned = append(learned, ep)
	}
	return c.pool.Merge(learned)
}

// transitionClosed is reached when the endpoint pool is exhausted without a
// successful reconnect within MaxReconnects; there is no further recovery
// path, so the Connection is torn down. Called from the Reconnector's own
// group goroutine, so it triggers teardown without blocking on it — see
// closeAsync.
func (c *Connection) transitionClosed() {
	c.closeAsync()
}

// keepaliveLoop sends PING on a fixed cadence and treats MaxPingsOut
// consecutive unanswered PINGs as a communication failure, the same path a
// transport read/write error takes.
func (c *Connection) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	unanswered := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			ch := make(chan struct{})
			c.pongMu.Lock()
			c.pongWaiters = append(c.pongWaiters, ch)
			c.pongMu.Unlock()

			if !c.primaryQ.push(proto.NewPing()) {
				continue
			}
			select {
			case <-ch:
				unanswered = 0
			case <-time.After(c.opts.PingInterval):
				unanswered++
				if unanswered >= c.opts.MaxPingsOut {
					c.onCommFailure(wrapError(KindTimeout, "max unanswered pings exceeded", nil))
					unanswered = 0
				}
			case <-c.closed:
				return
			}
		}
	}
}
