package linebus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePublishSubjectRejectsWildcards(t *testing.T) {
	opts := defaultOptions()
	assert.NoError(t, validatePublishSubject("orders.created", opts))

	err := validatePublishSubject("orders.*", opts)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadSubject))

	err = validatePublishSubject("orders.>", opts)
	assert.Error(t, err)

	err = validatePublishSubject("", opts)
	assert.Error(t, err)
}

func TestValidateSubscribeSubjectAllowsWildcardTokens(t *testing.T) {
	opts := defaultOptions()
	assert.NoError(t, validateSubscribeSubject("orders.*.created", opts))
	assert.NoError(t, validateSubscribeSubject("orders.>", opts))

	assert.Error(t, validateSubscribeSubject("orders.id*", opts))
	assert.Error(t, validateSubscribeSubject("orders.>.created", opts))
}

func TestValidatePayloadEnforcesLimit(t *testing.T) {
	assert.NoError(t, validatePayload(make([]byte, 10), 16))
	err := validatePayload(make([]byte, 17), 16)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxPayloadExceeded))
}

func TestValidatePublishSubjectMaxLength(t *testing.T) {
	opts := defaultOptions()
	opts.MaxSubjectLength = 4
	assert.NoError(t, validatePublishSubject("a.b", opts))
	err := validatePublishSubject(strings.Repeat("a", 5), opts)
	assert.Error(t, err)
}
