package linebus

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string

	sub := &Subscription{SID: 1, Subject: "orders.created"}
	sub.handler = func(msg *Message) {
		mu.Lock()
		got = append(got, msg.Subject)
		mu.Unlock()
	}

	d := newDispatcher("orders.created#1", nil, 4)
	d.register(sub)

	for i := 0; i < 3; i++ {
		sub.mu.Lock()
		sub.pending++
		sub.mu.Unlock()
		require.True(t, d.deliver(sub, &Message{Subject: "orders." + strconv.Itoa(i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"orders.0", "orders.1", "orders.2"}, got)
	mu.Unlock()

	assert.Equal(t, 0, sub.Pending())
}

func TestDispatcherDeliverDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	sub := &Subscription{SID: 1, Subject: "orders.created"}
	started := make(chan struct{}, 1)
	sub.handler = func(msg *Message) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	}

	d := newDispatcher("orders.created#1", nil, 1)
	d.register(sub)

	require.True(t, d.deliver(sub, &Message{Subject: "orders.created"}))
	<-started // handler is now blocked inside run(), the queue itself is empty again

	require.True(t, d.deliver(sub, &Message{Subject: "orders.created"})) // fills the 1-slot queue
	assert.False(t, d.deliver(sub, &Message{Subject: "orders.created"})) // dropped

	close(block)
}

func TestDispatcherUnregisterStopsTrackingSubscription(t *testing.T) {
	sub := &Subscription{SID: 7, Subject: "x"}
	d := newDispatcher("x#7", nil, 1)
	d.register(sub)
	assert.Same(t, d, sub.dispatcher)

	d.unregister(sub.SID)
	d.mu.Lock()
	_, present := d.subs[sub.SID]
	d.mu.Unlock()
	assert.False(t, present)
}
