package linebus

import (
	"context"
	"sync"

	"github.com/zeebo/xxh3"
)

// Subscription is a single live subscription, identified by a
// client-assigned SID (echoed by the server on delivery) that stays stable
// across reconnects. Attributes
// survive reconnect; the registry re-registers the same SID/subject/queue
// on resubscribe (§3).
type Subscription struct {
	SID     uint64
	Subject string
	Queue   string
	Mode    DeliveryMode

	conn *Connection

	// Pull-mode state.
	pullCh chan *Message

	// Push-mode state.
	dispatcher *Dispatcher
	handler    func(*Message)

	mu        sync.Mutex
	pending   int
	autoUnsub int // remaining auto-unsubscribe count; -1 = unlimited
	closed    bool
}

// Next blocks until a message arrives on a pull subscription, ctx is
// cancelled, or the subscription/connection closes.
func (s *Subscription) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-s.pullCh:
		if !ok {
			return nil, ErrClosed
		}
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// Pending reports how many delivered-but-not-consumed messages this
// subscription currently holds.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Unsubscribe removes the subscription immediately. It takes no message
// count: there is no public way to unsubscribe only after N more messages.
func (s *Subscription) Unsubscribe() error {
	return s.conn.unsubscribe(s, -1)
}

// registry tracks subscriptions by SID (authoritative: the server has
// already matched subjects, so inbound routing never re-matches
// wildcards) and by subject hash (local bookkeeping only, kept current on
// add/remove; routing and resubscribe replay both go by SID).
type registry struct {
	mu      sync.RWMutex
	bySID   map[uint64]*Subscription
	subject map[uint64][]*Subscription // xxh3(subject) -> subs sharing that bucket
	nextSID uint64
}

func newRegistry() *registry {
	return &registry{
		bySID:   make(map[uint64]*Subscription),
		subject: make(map[uint64][]*Subscription),
		nextSID: 1,
	}
}

func subjectHash(subject string) uint64 {
	return xxh3.HashString(subject)
}

// allocateSID returns the next client-chosen SID. SIDs are chosen
// client-side and echoed by the server on delivery (§3).
func (r *registry) allocateSID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid := r.nextSID
	r.nextSID++
	return sid
}

func (r *registry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sub.SID] = sub
	h := subjectHash(sub.Subject)
	r.subject[h] = append(r.subject[h], sub)
}

func (r *registry) remove(sid uint64) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.bySID[sid]
	if !ok {
		return nil
	}
	delete(r.bySID, sid)
	h := subjectHash(sub.Subject)
	bucket := r.subject[h]
	for i, s := range bucket {
		if s.SID == sid {
			r.subject[h] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	return sub
}

func (r *registry) get(sid uint64) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySID[sid]
}

// snapshot returns every live subscription, for resubscribe replay after
// reconnect. The order is not significant; callers issuing SUB replay may
// sort however they like.
func (r *registry) snapshot() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.bySID))
	for _, s := range r.bySID {
		out = append(out, s)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}
