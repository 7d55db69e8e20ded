package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusRequestTimeout, ErrCodeNetworkTimeout, true},
		{http.StatusNotFound, ErrCodeNotFound, false},
		{http.StatusConflict, ErrCodeConflict, false},
		{http.StatusTooManyRequests, ErrCodeServiceError, true},
		{http.StatusInternalServerError, ErrCodeServiceError, true},
		{http.StatusServiceUnavailable, ErrCodeServiceError, true},
		{http.StatusBadRequest, ErrCodeValidation, false},
		{http.StatusUnprocessableEntity, ErrCodeValidation, false},
		{http.StatusForbidden, ErrCodeValidation, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromHTTPStatus("save", tt.status, "msg", "")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", NewServiceError("op", 502, ""))))
	assert.False(t, IsRetryable(NewValidationError("bad")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.False(t, IsRetryable(ErrOffline))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize("op", nil))

	se := NewConflictError("application", "owner u1")
	assert.Same(t, se, Normalize("op", fmt.Errorf("x: %w", se)))

	timeout := Normalize("op", context.DeadlineExceeded)
	assert.Equal(t, ErrCodeNetworkTimeout, timeout.Code)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	assert.Equal(t, ErrCodeInternal, Normalize("op", stderrors.New("boom")).Code)
}

func TestCodeHelpers(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("application", "a1")))
	assert.True(t, IsConflict(NewConflictError("application", "")))
	assert.True(t, IsValidation(NewValidationError("bad", "a", "b")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("x")))
	assert.Equal(t, "a; b", NewValidationError("bad", "a", "b").Details)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(ErrCodeValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrCodeConflict))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrCodeNotFound))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ErrCodeServiceError))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrCodeInternal))
}

func TestConvertToBPMNError(t *testing.T) {
	b := ConvertToBPMNError(NewServiceError("index", 503, "down"))
	assert.Equal(t, "SERVICE_ERROR", b.Code)
	assert.Equal(t, 3, b.Retries)
	assert.True(t, b.Retryable)

	v := ConvertToBPMNError(NewValidationError("bad"))
	assert.Equal(t, 0, v.Retries)

	vars := v.ToErrorVariables()
	require.Contains(t, vars, "errorCode")
	assert.Equal(t, "VALIDATION_ERROR", vars["errorCode"])
	assert.Equal(t, "VALIDATION_ERROR", vars["originalErrorCode"])
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "TRANSIENT", GetErrorCategory(ErrCodeNetworkTimeout))
	assert.Equal(t, "STATE", GetErrorCategory(ErrCodeConflict))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}
