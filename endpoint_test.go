package linebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointSchemes(t *testing.T) {
	cases := []struct {
		raw    string
		scheme Scheme
		port   int
	}{
		{"nats://host1:4222", SchemePlain, 4222},
		{"tls://host2:4443", SchemeTLS, 4443},
		{"opentls://host3:4222", SchemeOpenTLS, 4222},
		{"host4", SchemePlain, 4222},
	}
	for _, c := range cases {
		ep, err := parseEndpoint(c.raw)
		require.NoError(t, err, c.raw)
		assert.Equal(t, c.scheme, ep.Scheme, c.raw)
		assert.Equal(t, c.port, ep.Port, c.raw)
	}
}

func TestParseEndpointRejectsUnknownScheme(t *testing.T) {
	_, err := parseEndpoint("ftp://host:21")
	assert.Error(t, err)
}

func TestPoolNoRandomizePreservesOrder(t *testing.T) {
	p, err := NewPool([]string{"nats://a:4222", "nats://b:4222", "nats://c:4222"}, true)
	require.NoError(t, err)
	snap := p.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a:4222", snap[0].String())
	assert.Equal(t, "b:4222", snap[1].String())
	assert.Equal(t, "c:4222", snap[2].String())
}

func TestPoolAdvanceRotatesCursor(t *testing.T) {
	p, err := NewPool([]string{"nats://a:4222", "nats://b:4222", "nats://c:4222"}, true)
	require.NoError(t, err)

	p.Advance(p.Snapshot()[0])
	snap := p.Snapshot()
	assert.Equal(t, "b:4222", snap[0].String())
}

func TestPoolMergeDedupsAndMarksLearned(t *testing.T) {
	p, err := NewPool([]string{"nats://a:4222"}, true)
	require.NoError(t, err)

	learnedA, _ := parseEndpoint("nats://a:4222")
	learnedB, _ := parseEndpoint("nats://b:4222")

	added := p.Merge([]Endpoint{learnedA, learnedB})
	assert.True(t, added)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.False(t, snap[0].Learned)
	assert.True(t, snap[1].Learned)

	assert.False(t, p.Merge([]Endpoint{learnedB}))
}
