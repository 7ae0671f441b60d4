package linebus

import (
	"sync"

	"github.com/anvilio/linebus/internal/proto"
)

// reconnectBuffer holds user publishes issued while the Connection is
// RECONNECTING, bounded in bytes per the reconnect_buffer_size option: 0
// disables it (callers get ErrIllegalState immediately), -1 is unlimited,
// and a positive N bounds it — the publish that would cross N fails
// synchronously with ErrIllegalState while everything already buffered is
// retained (§4.F).
type reconnectBuffer struct {
	mu       sync.Mutex
	limit    int // bytes; 0 disabled, -1 unlimited
	bytes    int
	messages []*proto.OutMsg
}

func newReconnectBuffer(limitBytes int) *reconnectBuffer {
	return &reconnectBuffer{limit: limitBytes}
}

// offer appends msg to the buffer, or fails with IllegalState if disabled
// or the byte budget would be exceeded.
func (b *reconnectBuffer) offer(msg *proto.OutMsg) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == 0 {
		return wrapError(KindIllegalState, "reconnect buffering disabled, publish while disconnected rejected", nil)
	}
	size := msg.SizeInBytes()
	if b.limit > 0 && b.bytes+size > b.limit {
		return wrapError(KindIllegalState, "reconnect buffer would exceed configured size", nil)
	}
	b.messages = append(b.messages, msg)
	b.bytes += size
	return nil
}

// drain removes and returns every buffered message in FIFO order, clearing
// the buffer, for splicing onto the reconnect queue ahead of further user
// publishes.
func (b *reconnectBuffer) drain() []*proto.OutMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.messages
	b.messages = nil
	b.bytes = 0
	return out
}
