package linebus

import (
	"strconv"

	"github.com/anvilio/linebus/internal/proto"
)

const defaultPullBuffer = 512

func dispatcherName(subject string, sid uint64) string {
	return subject + "#" + strconv.FormatUint(sid, 10)
}

// SubscribeSync creates a pull subscription: delivered messages accumulate
// in an internal buffer and are drained with Subscription.Next.
func (c *Connection) SubscribeSync(subject string) (*Subscription, error) {
	return c.subscribe(subject, "", Pull, nil)
}

// QueueSubscribeSync creates a pull subscription sharing queue among every
// member subscribed to the same (subject, queue) pair — the server
// delivers each message to exactly one queue member.
func (c *Connection) QueueSubscribeSync(subject, queue string) (*Subscription, error) {
	return c.subscribe(subject, queue, Pull, nil)
}

// Subscribe creates a push subscription: each delivered message invokes
// handler on the returned Dispatcher's single-threaded handler loop.
func (c *Connection) Subscribe(subject string, handler func(*Message)) (*Subscription, *Dispatcher, error) {
	return c.subscribeDispatched(subject, "", handler)
}

// QueueSubscribe creates a push subscription within queue.
func (c *Connection) QueueSubscribe(subject, queue string, handler func(*Message)) (*Subscription, *Dispatcher, error) {
	return c.subscribeDispatched(subject, queue, handler)
}

func (c *Connection) subscribeDispatched(subject, queue string, handler func(*Message)) (*Subscription, *Dispatcher, error) {
	sub, err := c.subscribe(subject, queue, Push, handler)
	if err != nil {
		return nil, nil, err
	}
	d := newDispatcher(dispatcherName(subject, sub.SID), c, defaultPullBuffer)
	d.register(sub)

	c.dispatchersMu.Lock()
	c.dispatchers[d.name] = d
	c.dispatchersMu.Unlock()

	return sub, d, nil
}

func (c *Connection) subscribe(subject, queue string, mode DeliveryMode, handler func(*Message)) (*Subscription, error) {
	if err := validateSubscribeSubject(subject, c.opts); err != nil {
		return nil, err
	}
	if c.State() == StateClosed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		SID:       c.registry.allocateSID(),
		Subject:   subject,
		Queue:     queue,
		Mode:      mode,
		conn:      c,
		handler:   handler,
		autoUnsub: -1,
	}
	if mode == Pull {
		sub.pullCh = make(chan *Message, defaultPullBuffer)
	}
	c.registry.add(sub)

	if !c.enqueueControl(proto.NewSub(subject, queue, sub.SID)) {
		c.registry.remove(sub.SID)
		return nil, ErrDisconnected
	}
	return sub, nil
}

// unsubscribe removes sub from the registry and tells the server to stop
// delivery. afterN >= 0 requests auto-unsubscribe after that many more
// messages instead of immediately; -1 unsubscribes right away.
func (c *Connection) unsubscribe(sub *Subscription, afterN int) error {
	if afterN >= 0 {
		sub.mu.Lock()
		sub.autoUnsub = afterN
		sub.mu.Unlock()
		c.enqueueControl(proto.NewUnsub(sub.SID, afterN))
		if afterN > 0 {
			return nil
		}
	} else {
		c.enqueueControl(proto.NewUnsub(sub.SID, -1))
	}

	c.registry.remove(sub.SID)
	if sub.dispatcher != nil {
		sub.dispatcher.unregister(sub.SID)
	}
	if sub.pullCh != nil {
		close(sub.pullCh)
	}
	return nil
}

// enqueueControl pushes a protocol-management message (SUB/UNSUB) onto
// whichever queue is currently live: the reconnect queue while
// RECONNECTING (so it's replayed in order ahead of buffered publishes),
// the primary queue otherwise.
func (c *Connection) enqueueControl(msg *proto.OutMsg) bool {
	if c.State() == StateReconnecting {
		return c.reconnectQ.push(msg)
	}
	return c.primaryQ.push(msg)
}
