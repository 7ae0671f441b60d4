package linebus

import (
	"sync"
	"time"

	"github.com/anvilio/linebus/internal/proto"
)

// writeQueue is a bounded, blocking FIFO of outbound messages, chained via
// their intrusive Next pointer so a batch can be detached and walked by
// the Writer without copying into a slice. It is also used, with a zero
// byte cap, as the unbounded reconnect queue for protocol-internal replay
// traffic.
type writeQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	head, tail *proto.OutMsg
	count      int
	bytes      int

	maxCount int // 0 = unbounded
	maxBytes int // 0 = unbounded
	discard  bool

	paused bool
	closed bool
}

func newWriteQueue(maxCount, maxBytes int, discard bool) *writeQueue {
	q := &writeQueue{maxCount: maxCount, maxBytes: maxBytes, discard: discard}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues msg. Internal (protocol-management) messages bypass the
// byte-capacity check, per §4.C. Returns false if the queue was full under
// a discard-new policy and the message was dropped.
func (q *writeQueue) push(msg *proto.OutMsg) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.full(msg) && !q.closed {
		if q.discard {
			return false
		}
		q.cond.Wait()
	}
	if q.closed {
		return false
	}

	if q.tail == nil {
		q.head = msg
	} else {
		q.tail.Next = msg
	}
	q.tail = msg
	q.count++
	q.bytes += msg.SizeInBytes()
	q.cond.Broadcast()
	return true
}

func (q *writeQueue) full(msg *proto.OutMsg) bool {
	if q.maxCount > 0 && q.count >= q.maxCount {
		return true
	}
	if !msg.Internal && q.maxBytes > 0 && q.bytes+msg.SizeInBytes() > q.maxBytes {
		return true
	}
	return false
}

// accumulatePoll bounds how long a single accumulate wait-chunk blocks, so
// a caller re-checking stop via the returned false result never waits
// longer than this before getting a chance to act on it, regardless of
// the overall wait deadline passed in.
const accumulatePoll = 200 * time.Millisecond

// accumulate detaches up to maxCount messages totaling at most maxBytes
// (the first message is always taken, even if it alone exceeds maxBytes),
// waiting up to wait for at least one if the queue is currently empty or
// paused, in chunks no longer than accumulatePoll so a caller polling
// stop between calls (the Writer's stop signal) notices promptly even
// while wait is long. Returns the chain head, its summed size, message
// count, and whether anything was returned.
func (q *writeQueue) accumulate(maxBytes, maxCount int, wait time.Duration, stop <-chan struct{}) (*proto.OutMsg, int, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(wait)
	for (q.head == nil || q.paused) && !q.closed {
		select {
		case <-stop:
			return nil, 0, 0, false
		default:
		}
		remaining := deadline.Sub(time.Now())
		if remaining <= 0 {
			return nil, 0, 0, false
		}
		if remaining > accumulatePoll {
			remaining = accumulatePoll
		}
		q.waitWithTimeout(remaining)
	}
	if q.head == nil {
		return nil, 0, 0, false
	}

	head := q.head
	prev := head
	size := head.SizeInBytes()
	n := 1
	cur := head.Next
	for cur != nil && n < maxCount && size+cur.SizeInBytes() <= maxBytes {
		size += cur.SizeInBytes()
		n++
		prev = cur
		cur = cur.Next
	}
	prev.Next = nil

	q.head = cur
	if q.head == nil {
		q.tail = nil
	}
	q.count -= n
	q.bytes -= size
	q.cond.Broadcast()
	return head, size, n, true
}

// waitWithTimeout blocks on cond for at most d, waking itself via a timer
// goroutine if nothing else signals first.
func (q *writeQueue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// pause blocks accumulators until resume is called, without discarding
// queued state — used to stop the Writer across a reconnect without
// tearing down the queue.
func (q *writeQueue) pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *writeQueue) resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// filter drops every queued message for which predicate returns true,
// used to purge stale PING/PONG control traffic across a reconnect.
func (q *writeQueue) filter(predicate func(*proto.OutMsg) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var newHead, newTail *proto.OutMsg
	count, bytes := 0, 0
	for cur := q.head; cur != nil; {
		next := cur.Next
		if !predicate(cur) {
			cur.Next = nil
			if newTail == nil {
				newHead = cur
			} else {
				newTail.Next = cur
			}
			newTail = cur
			count++
			bytes += cur.SizeInBytes()
		}
		cur = next
	}
	q.head, q.tail, q.count, q.bytes = newHead, newTail, count, bytes
}

// isEmpty reports whether the queue currently holds no messages.
func (q *writeQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == nil
}

// close wakes every blocked pusher/accumulator so they can observe the
// queue has been retired.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
