package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	err := NewError(ErrNotFound, "workflow missing")
	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "workflow missing", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
	assert.False(t, err.Retryable)
	assert.Equal(t, "[NOT_FOUND] workflow missing", err.Error())
}

func TestErrorWithCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("record not found")
	err := NewInternalError("load workflow", cause)

	assert.Equal(t, ErrInternal, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "record not found")
}

func TestErrorBuilders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrUpstreamError, "provider down").
		WithRetryable(true).
		WithHTTPStatus(http.StatusServiceUnavailable)

	assert.True(t, err.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
}

func TestConstructorsFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  *Error
		code ErrorCode
		msg  string
	}{
		{NewValidationError("field %s required", "name"), ErrValidation, "field name required"},
		{NewPermissionError("task %s not yours", "t1"), ErrPermission, "task t1 not yours"},
		{NewNotFoundError("agent %s", "a1"), ErrNotFound, "agent a1"},
		{NewConflictError("instance already %s", "completed"), ErrConflict, "instance already completed"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.msg, tc.err.Message)
	}
}

func TestHTTPStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrValidation:      http.StatusBadRequest,
		ErrPermission:      http.StatusForbidden,
		ErrNotFound:        http.StatusNotFound,
		ErrConflict:        http.StatusConflict,
		ErrRateLimited:     http.StatusTooManyRequests,
		ErrUpstreamTimeout: http.StatusGatewayTimeout,
		ErrUpstreamError:   http.StatusBadGateway,
		ErrInternal:        http.StatusInternalServerError,
		ErrorCode("bogus"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFor(code), "code %s", code)
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	inner := NewConflictError("already running")
	wrapped := fmt.Errorf("engine: %w", inner)

	assert.Equal(t, ErrConflict, GetErrorCode(wrapped))
	assert.True(t, IsCode(wrapped, ErrConflict))
	assert.False(t, IsCode(wrapped, ErrNotFound))
}

func TestGetErrorCode_Plain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrInternal, GetErrorCode(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(errors.New("plain")))
	require.False(t, IsRetryable(NewConflictError("nope")))
	require.True(t, IsRetryable(NewError(ErrUpstreamTimeout, "slow").WithRetryable(true)))

	wrapped := fmt.Errorf("call: %w", NewError(ErrRateLimited, "429").WithRetryable(true))
	require.True(t, IsRetryable(wrapped))
}
