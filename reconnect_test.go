package linebus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConnection builds just enough of a Connection for reconnector
// unit tests that never touch a real transport.
func newTestConnection(t *testing.T) *Connection {
	opts := defaultOptions()
	opts.ReconnectWait = time.Millisecond
	opts.ReconnectJitter = 0
	opts.ReconnectJitterTLS = 0

	c := &Connection{
		opts:        opts,
		status:      newStatusBroadcaster(nil),
		registry:    newRegistry(),
		primaryQ:    newWriteQueue(0, 0, false),
		reconnectQ:  newWriteQueue(0, 0, false),
		commFailure: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	pool, err := NewPool([]string{"nats://a:4222"}, true)
	require.NoError(t, err)
	c.pool = pool
	c.wtr = newWriter(c.primaryQ, c.reconnectQ, 4096, func(error) {})
	return c
}

func TestOnCommFailureIsIdempotentWhileReconnecting(t *testing.T) {
	c := newTestConnection(t)
	c.state = StateConnected

	c.onCommFailure(ErrDisconnected)
	assert.Equal(t, StateReconnecting, c.State())
	assert.True(t, c.primaryQ.paused)

	// A second failure signal while already reconnecting must not re-pause,
	// re-fire Disconnected, or block on the commFailure channel, which still
	// holds the first signal.
	done := make(chan struct{})
	go func() {
		c.onCommFailure(ErrDisconnected)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onCommFailure blocked on a redundant failure signal")
	}
}

func TestOnCommFailureIsNoOpWhenClosed(t *testing.T) {
	c := newTestConnection(t)
	c.state = StateClosed

	c.onCommFailure(ErrDisconnected)
	assert.Equal(t, StateClosed, c.State())
	assert.False(t, c.primaryQ.paused)
}

func TestSleepBackoffSelectsJitterByScheme(t *testing.T) {
	c := newTestConnection(t)
	c.opts.ReconnectWait = 5 * time.Millisecond
	c.opts.ReconnectJitterTLS = time.Hour
	r := newReconnector(c)

	start := time.Now()
	ok := r.sleepBackoff(context.Background(), Endpoint{Scheme: SchemePlain})
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	// The plain endpoint uses ReconnectJitter (0), not the hour-long TLS jitter.
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepBackoffReturnsFalseWhenConnectionClosed(t *testing.T) {
	c := newTestConnection(t)
	c.opts.ReconnectWait = time.Minute
	close(c.closed)
	r := newReconnector(c)

	ok := r.sleepBackoff(context.Background(), Endpoint{Scheme: SchemePlain})
	assert.False(t, ok)
}
