package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeDatabaseConnection,
				Message: "failed to connect to database",
				Cause:   errors.New("connection refused"),
			},
			expected: "DATABASE_CONNECTION: failed to connect to database: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "sessionId").WithContext("value", "")

	assert.Same(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "sessionId", err.Context["field"])
}

func TestWrapRetryable(t *testing.T) {
	err := WrapRetryable(errors.New("busy"), ErrCodeDatabaseQuery, "query failed")

	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetCode_FindsWrappedAppError(t *testing.T) {
	inner := NewRaceLostError("session", "s1")
	wrapped := fmt.Errorf("catch: %w", inner)

	assert.Equal(t, ErrCodeRaceLost, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeRaceLost))
	assert.False(t, HasCode(nil, ErrCodeRaceLost))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, appErr)
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "custom", GetUserMessage(New(ErrCodeNotFound, "x").WithUserMessage("custom")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(New(ErrCodeNotFound, "x")))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}
