package linebus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtoErrorIsMatchesByKind(t *testing.T) {
	fresh := wrapError(KindTimeout, "request timed out", nil)
	assert.True(t, errors.Is(fresh, ErrTimeout))
	assert.False(t, errors.Is(fresh, ErrClosed))
}

func TestProtoErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError(KindIO, "write failed", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "write failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		reason string
		want   bool
	}{
		{"Authorization Violation", true},
		{"User authentication expired", true},
		{"Account not found", true},
		{"Maximum Payload Violation", false},
		{"Permissions Violation for Subscription", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isAuthError(c.reason), c.reason)
	}
}
