package custody

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/octopus-network/omnity-interoperability-sub003/guard"
)

func TestWrapCall(t *testing.T) {
	assert.NoError(t, wrapCall("send_ticket", nil))

	tests := []struct {
		err    error
		reason Reason
	}{
		{status.Error(codes.ResourceExhausted, "queue"), QueueFull},
		{status.Error(codes.Unavailable, "down"), OutOfResources},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), OutOfResources},
		{status.Error(codes.PermissionDenied, "no"), Rejected},
		{status.Error(codes.NotFound, "gone"), Rejected},
		{status.Error(codes.Internal, "boom"), AppError},
		{errors.New("plain"), AppError},
	}
	for _, tt := range tests {
		err := wrapCall("send_ticket", tt.err)
		var ce *CallError
		if assert.ErrorAs(t, err, &ce) {
			assert.Equal(t, tt.reason, ce.Reason, tt.err.Error())
			assert.Equal(t, "send_ticket", ce.Method)
		}
		assert.ErrorIs(t, err, ErrTemporarilyUnavailable)
		assert.ErrorIs(t, err, tt.err)
		assert.True(t, IsRetryable(err))
		assert.False(t, IsValidation(err))
	}

	// already classified errors keep their first method
	inner := wrapCall("get_utxos", errors.New("x"))
	assert.Same(t, inner, wrapCall("register", inner))
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, IsValidation(fmt.Errorf("%w: 1", ErrAmountTooLow)))
	assert.True(t, IsValidation(ErrInvalidAmount))
	assert.False(t, IsRetryable(ErrInvalidAddress))
	assert.True(t, IsRetryable(guard.ErrAlreadyInProgress))
	assert.True(t, IsRetryable(fmt.Errorf("%w: x", ErrAlreadyProcessing)))
	assert.False(t, IsValidation(ErrAlreadySubmitted))
}
