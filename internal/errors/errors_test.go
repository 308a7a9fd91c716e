package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), CodeTimeout},
		{"coded passthrough", ErrNotFound.Wrap(errors.New("game 9")), CodeNotFound},
		{"timeout text", errors.New("Timeout after 5000ms"), CodeTimeout},
		{"not found text", errors.New("game not found"), CodeNotFound},
		{"network text", errors.New("network request failed"), CodeNetworkUnreachable},
		{"funds text", errors.New("execution reverted: insufficient balance"), CodeInsufficientFunds},
		{"other", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Classify(tt.err).Code)
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestWrapKeepsCode(t *testing.T) {
	cause := errors.New("decode offset 5")
	err := fmt.Errorf("load: %w", ErrDecode.Wrap(cause))

	assert.True(t, Is(err, ErrDecode))
	assert.False(t, Is(err, ErrTimeout))
	assert.Equal(t, CodeDecodeError, GetCode(err))
	assert.Equal(t, ErrDecode.Message, GetMessage(err))
	assert.ErrorIs(t, err, cause)
}

func TestGetCodeDefaults(t *testing.T) {
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))
	assert.Equal(t, "Unknown error", GetMessage(errors.New("plain")))
}

func TestIsInsufficientFunds(t *testing.T) {
	assert.True(t, IsInsufficientFunds(ErrInsufficientFunds))
	assert.True(t, IsInsufficientFunds(errors.New("not enough funds for gas")))
	assert.False(t, IsInsufficientFunds(errors.New("nonce too low")))
	assert.False(t, IsInsufficientFunds(nil))
}
