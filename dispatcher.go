package linebus

import (
	"sync"

	"go.uber.org/multierr"
)

// Dispatcher is a named group of push subscriptions sharing a single
// single-threaded handler loop. It owns the lifetime of the subscriptions
// registered onto it: closing a Dispatcher unsubscribes everything routed
// through it.
type Dispatcher struct {
	name string
	conn *Connection

	queue chan dispatchItem
	done  chan struct{}

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	closed bool

	maxPending int
}

type dispatchItem struct {
	sub *Subscription
	msg *Message
}

func newDispatcher(name string, conn *Connection, maxPending int) *Dispatcher {
	d := &Dispatcher{
		name:       name,
		conn:       conn,
		queue:      make(chan dispatchItem, maxPending),
		done:       make(chan struct{}),
		subs:       make(map[uint64]*Subscription),
		maxPending: maxPending,
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for item := range d.queue {
		item.sub.mu.Lock()
		item.sub.pending--
		item.sub.mu.Unlock()
		item.sub.handler(item.msg)
	}
	close(d.done)
}

// deliver enqueues msg for sub's handler. If the dispatcher's queue is at
// capacity, the message is dropped and the slow-consumer counter is
// incremented rather than blocking the Reader.
func (d *Dispatcher) deliver(sub *Subscription, msg *Message) bool {
	select {
	case d.queue <- dispatchItem{sub: sub, msg: msg}:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) register(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[sub.SID] = sub
	sub.dispatcher = d
}

func (d *Dispatcher) unregister(sid uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, sid)
}

// Close unsubscribes every subscription owned by this dispatcher and stops
// its handler loop once the queue drains.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	var err error
	for _, s := range subs {
		err = multierr.Append(err, d.conn.unsubscribe(s, -1))
	}
	close(d.queue)
	<-d.done
	return err
}
