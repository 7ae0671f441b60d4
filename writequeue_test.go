package linebus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilio/linebus/internal/proto"
)

func TestWriteQueuePushAndAccumulate(t *testing.T) {
	q := newWriteQueue(0, 0, false)
	require.True(t, q.push(proto.NewPub("a", "", []byte("1"))))
	require.True(t, q.push(proto.NewPub("b", "", []byte("2"))))

	head, size, n, ok := q.accumulate(1<<20, 10, time.Second, nil)
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Greater(t, size, 0)
	assert.Equal(t, "a", string(head.Proto[4:5])) // "PUB a"[4:5] == "a"
}

func TestWriteQueueAccumulateTimesOutWhenEmpty(t *testing.T) {
	q := newWriteQueue(0, 0, false)
	_, _, _, ok := q.accumulate(1<<20, 10, 50*time.Millisecond, nil)
	assert.False(t, ok)
}

func TestWriteQueueAccumulateRespectsStopSignal(t *testing.T) {
	q := newWriteQueue(0, 0, false)
	stop := make(chan struct{})
	close(stop)

	start := time.Now()
	_, _, _, ok := q.accumulate(1<<20, 10, 5*time.Minute, stop)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWriteQueueDiscardPolicyDropsOnFull(t *testing.T) {
	q := newWriteQueue(1, 0, true)
	require.True(t, q.push(proto.NewPub("a", "", []byte("x"))))
	assert.False(t, q.push(proto.NewPub("b", "", []byte("y"))))
}

func TestWriteQueuePauseBlocksAccumulate(t *testing.T) {
	q := newWriteQueue(0, 0, false)
	q.push(proto.NewPub("a", "", []byte("x")))
	q.pause()

	_, _, _, ok := q.accumulate(1<<20, 10, 100*time.Millisecond, nil)
	assert.False(t, ok)

	q.resume()
	_, _, n, ok := q.accumulate(1<<20, 10, time.Second, nil)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestWriteQueueFilterDropsMatching(t *testing.T) {
	q := newWriteQueue(0, 0, false)
	q.push(proto.NewPing())
	q.push(proto.NewPub("a", "", []byte("x")))
	q.push(proto.NewPong())

	q.filter(func(m *proto.OutMsg) bool {
		return string(m.Proto) == "PING" || string(m.Proto) == "PONG"
	})

	_, _, n, ok := q.accumulate(1<<20, 10, time.Second, nil)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestWriteQueueInternalBypassesByteCap(t *testing.T) {
	q := newWriteQueue(0, 1, false) // 1 byte budget
	assert.True(t, q.push(proto.NewPing()))
}
