package linebus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/anvilio/linebus/internal/proto"
)

const (
	// writerWaitForMessage is the accumulate timeout used while draining
	// the primary queue under normal operation.
	writerWaitForMessage = 5 * time.Minute
	// writerReconnectWait is the much shorter timeout used while draining
	// the reconnect queue, so replay traffic (resubscribes, buffered
	// publishes) drains promptly instead of waiting out the long timeout.
	writerReconnectWait = 100 * time.Millisecond
)

// writer drains a writeQueue, batches messages into a shared growable
// buffer up to a byte cap, and flushes the buffer to a transport. Its
// start/stop pair is idempotent and guarded by a dedicated mutex so it is
// safe to call repeatedly under reconnect churn — including back-to-back
// stop/start without awaiting the prior stop's completion.
type writer struct {
	primary      *writeQueue
	reconnectQ   *writeQueue
	maxWriteSize int

	startStopLock sync.Mutex
	running       atomic.Bool
	reconnectMode atomic.Bool

	stopCh   chan struct{}
	stopDone chan struct{}

	onError func(error)
}

func newWriter(primary, reconnectQ *writeQueue, maxWriteSize int, onError func(error)) *writer {
	return &writer{
		primary:      primary,
		reconnectQ:   reconnectQ,
		maxWriteSize: maxWriteSize,
		onError:      onError,
	}
}

// start launches the writer loop against t, if not already running. It is
// a no-op if the writer is already running.
func (w *writer) start(t *transport) {
	w.startStopLock.Lock()
	defer w.startStopLock.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	done := make(chan struct{})
	w.stopDone = done

	go func() {
		defer close(done)
		defer w.running.Store(false)
		w.run(t)
	}()
}

// stop signals the writer loop to exit and returns a channel that closes
// once it has. Calling stop when not running returns an already-closed
// channel. stop does not block — callers decide whether to wait on the
// returned channel.
func (w *writer) stop() <-chan struct{} {
	w.startStopLock.Lock()
	defer w.startStopLock.Unlock()

	if !w.running.Load() || w.stopCh == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	return w.stopDone
}

func (w *writer) setReconnectMode(on bool) {
	w.reconnectMode.Store(on)
}

func (w *writer) run(t *transport) {
	buf := proto.NewByteArrayBuilder(w.maxWriteSize)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		var head *proto.OutMsg
		var n int
		var ok bool
		if w.reconnectMode.Load() {
			head, _, n, ok = w.reconnectQ.accumulate(w.maxWriteSize, 1<<20, writerReconnectWait, w.stopCh)
		} else {
			head, _, n, ok = w.primary.accumulate(w.maxWriteSize, 1<<20, writerWaitForMessage, w.stopCh)
		}
		if !ok {
			continue
		}

		buf.Clear()
		remaining := n
		for cur := head; cur != nil; cur = cur.Next {
			cur.AppendTo(buf)
			remaining--
			if buf.Len() >= w.maxWriteSize || remaining == 0 {
				if _, err := t.Write(buf.Bytes()); err != nil {
					if w.onError != nil {
						w.onError(wrapError(KindIO, "write failed", err))
					}
					return
				}
				buf.Clear()
			}
		}
	}
}
