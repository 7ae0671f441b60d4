package linebus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySIDsAreMonotonicAndStable(t *testing.T) {
	r := newRegistry()
	sid1 := r.allocateSID()
	sid2 := r.allocateSID()
	assert.NotEqual(t, sid1, sid2)
	assert.Greater(t, sid2, sid1)

	sub := &Subscription{SID: sid1, Subject: "orders.*"}
	r.add(sub)
	assert.Same(t, sub, r.get(sid1))

	removed := r.remove(sid1)
	assert.Same(t, sub, removed)
	assert.Nil(t, r.get(sid1))
}

func TestRegistrySnapshotSurvivesIndependentOfMap(t *testing.T) {
	r := newRegistry()
	a := &Subscription{SID: r.allocateSID(), Subject: "a"}
	b := &Subscription{SID: r.allocateSID(), Subject: "b"}
	r.add(a)
	r.add(b)

	snap := r.snapshot()
	assert.Len(t, snap, 2)

	r.remove(a.SID)
	assert.Len(t, snap, 2) // snapshot slice itself is unaffected
	assert.Equal(t, 1, r.len())
}

func TestSubscriptionNextTimesOutViaContext(t *testing.T) {
	sub := &Subscription{pullCh: make(chan *Message, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSubscriptionNextDeliversQueuedMessage(t *testing.T) {
	sub := &Subscription{pullCh: make(chan *Message, 1)}
	sub.pending = 1
	sub.pullCh <- &Message{Subject: "orders.created"}

	msg, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "orders.created", msg.Subject)
	assert.Equal(t, 0, sub.Pending())
}
