package linebus

import (
	"errors"

	"github.com/anvilio/linebus/internal/proto"
)

// readLoop is the Line Reader task (§4.B): it owns the transport's read
// side exclusively and feeds every framed operation to the Connection's
// control-plane or the Subscription Registry. It returns only when the
// transport fails or is closed, at which point it hands off to the
// communication-issue path rather than raising anything to publish
// callers (§7).
func (c *Connection) readLoop(t *transport) {
	lr := proto.NewLineReader(t, c.opts.BufferSize)
	for {
		op, msg, info, errLine, err := lr.ReadOp()
		if err != nil {
			c.onCommFailure(classifyReadErr(err))
			return
		}

		switch op {
		case proto.OpInfo:
			c.handleInfo(info)
		case proto.OpMsg, proto.OpHMsg:
			c.handleInboundMessage(msg)
		case proto.OpPing:
			c.primaryQ.push(proto.NewPong())
		case proto.OpPong:
			c.handlePong()
		case proto.OpOK:
			// acknowledgement of a prior protocol line; nothing to do.
		case proto.OpErr:
			c.handleErrLine(string(errLine))
		}
	}
}

func classifyReadErr(err error) error {
	var protoErr *proto.ProtocolError
	if errors.As(err, &protoErr) {
		return wrapError(KindProtocolError, protoErr.Reason, err)
	}
	return wrapError(KindIO, "transport read failed", err)
}

// handleInfo applies an INFO frame received after the initial handshake:
// lame-duck notice and server-pushed endpoint discovery. The handshake
// INFO itself is consumed directly by dialOne/readInfo, not here.
func (c *Connection) handleInfo(info *proto.ServerInfo) {
	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()

	if info.LameDuckMode {
		c.status.fire(LameDuck)
	}

	if len(info.ConnectURLs) == 0 {
		return
	}
	learned := make([]Endpoint, 0, len(info.ConnectURLs))
	for _, raw := range info.ConnectURLs {
		ep, err := parseEndpoint(raw)
		if err != nil {
			continue
		}
		learned = append(learned, ep)
	}
	if c.pool.Merge(learned) {
		c.status.fire(DiscoveredServers)
	}
}

// handleInboundMessage routes a parsed MSG/HMSG by the SID the server echoes
// (authoritative — the server has already matched subjects) to the owning
// Subscription's pull queue or push Dispatcher, applying auto-unsubscribe
// bookkeeping and the slow-consumer overflow policy (§4.E).
func (c *Connection) handleInboundMessage(raw *proto.Message) {
	sub := c.registry.get(raw.SID)
	if sub == nil {
		return // already unsubscribed; server hasn't caught up yet
	}

	msg, err := newMessage(c, raw)
	if err != nil {
		c.reportError(err)
		return
	}
	c.stats.messagesReceived.Add(1)

	sub.mu.Lock()
	sub.pending++
	exhausted := false
	if sub.autoUnsub > 0 {
		sub.autoUnsub--
		exhausted = sub.autoUnsub == 0
	}
	mode := sub.Mode
	dispatcher := sub.dispatcher
	handler := sub.handler
	sub.mu.Unlock()

	switch mode {
	case Pull:
		c.deliverPull(sub, msg)
	case Push:
		if dispatcher != nil {
			if !dispatcher.deliver(sub, msg) {
				sub.mu.Lock()
				sub.pending--
				sub.mu.Unlock()
				c.onSlowConsumer()
			}
		} else if handler != nil {
			handler(msg)
			sub.mu.Lock()
			sub.pending--
			sub.mu.Unlock()
		}
	}

	if exhausted {
		c.registry.remove(sub.SID)
	}
}

// deliverPull enqueues msg on a pull subscription's buffer, dropping the
// oldest queued message and counting a slow consumer if the buffer is
// already full rather than blocking the Reader.
//
// This is the Reader's only caller of sub.pullCh, but a concurrent Next
// can drain it between the two selects below; when that happens the drop
// finds nothing to take and the final send still succeeds, so the race is
// benign here. It would not be if a second deliverPull could interleave.
func (c *Connection) deliverPull(sub *Subscription, msg *Message) {
	select {
	case sub.pullCh <- msg:
		return
	default:
	}

	select {
	case <-sub.pullCh:
		sub.mu.Lock()
		sub.pending--
		sub.mu.Unlock()
	default:
	}
	c.onSlowConsumer()
	select {
	case sub.pullCh <- msg:
	default:
		sub.mu.Lock()
		sub.pending--
		sub.mu.Unlock()
	}
}

func (c *Connection) onSlowConsumer() {
	c.stats.slowConsumers.Add(1)
	c.reportError(ErrSlowConsumer)
}

func (c *Connection) reportError(err error) {
	if c.opts.ErrorHandler != nil {
		c.opts.ErrorHandler(err)
	}
}

// handlePong completes the oldest pending Flush waiter. The server
// guarantees PONGs are sent in the order PINGs were received, and the
// Connection enqueues PINGs in the order Flush callers issued them, so a
// plain FIFO pop is correct without carrying any correlation token.
func (c *Connection) handlePong() {
	c.pongMu.Lock()
	if len(c.pongWaiters) == 0 {
		c.pongMu.Unlock()
		return
	}
	ch := c.pongWaiters[0]
	c.pongWaiters = c.pongWaiters[1:]
	c.pongMu.Unlock()
	close(ch)
}

// handleErrLine classifies a server -ERR line per the open question
// resolved in DESIGN.md: auth-class reasons abort reconnection entirely,
// everything else is reported to the error handler and the connection
// keeps running (§7). Called from the Reader's own group goroutine, so
// the auth-abort path triggers teardown without blocking on it — see
// closeAsync.
func (c *Connection) handleErrLine(reason string) {
	if isAuthError(reason) {
		c.reportError(wrapError(KindAuthFailed, reason, nil))
		c.closeAsync()
		return
	}
	c.reportError(wrapError(KindProtocolError, reason, nil))
}
