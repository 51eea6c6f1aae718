package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindSurvivesWrapping(t *testing.T) {
	errAlreadySubscribed := New(ErrStateConflict, "already subscribed")
	wrapped := fmt.Errorf("subscribe: %w", errAlreadySubscribed)

	assert.True(t, errors.Is(wrapped, ErrStateConflict))
	assert.True(t, errors.Is(wrapped, errAlreadySubscribed))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "already subscribed", Message(wrapped))
}

func TestError_GatewayWithCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("%w: %w", ErrGatewayUnavailable, cause)

	assert.True(t, errors.Is(err, ErrGateway))
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.False(t, errors.Is(err, ErrGatewayRejected))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "payment provider unavailable", Message(err))
}

func TestMessage_PlainError(t *testing.T) {
	assert.Equal(t, "boom", Message(errors.New("boom")))
}
