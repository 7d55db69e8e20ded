package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "assessment-sync/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]int{"n": in["n"] + 1})
	}))
	defer srv.Close()

	c := NewClient(time.Second).WithBaseURL(srv.URL + "/").WithHeader("X-User-ID", "u1")

	var out map[string]int
	require.NoError(t, c.DoJSON(context.Background(), "things", http.MethodPost, "/things", map[string]int{"n": 1}, &out))
	assert.Equal(t, 2, out["n"])
}

func TestDoJSON_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   apperrors.ErrorCode
	}{
		{"conflict", http.StatusConflict, `{"code":"CONFLICT","message":"exists"}`, apperrors.ErrCodeConflict},
		{"not found", http.StatusNotFound, `{"message":"no application"}`, apperrors.ErrCodeNotFound},
		{"validation", http.StatusUnprocessableEntity, `not json`, apperrors.ErrCodeValidation},
		{"server", http.StatusBadGateway, ``, apperrors.ErrCodeServiceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewClient(time.Second).WithBaseURL(srv.URL).DoJSON(context.Background(), "op", http.MethodGet, "/", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestDoJSON_TimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewClient(time.Second).WithBaseURL(srv.URL).DoJSON(ctx, "op", http.MethodGet, "/", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNetworkTimeout, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDoJSON_TransportFailures(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name      string
		baseURL   string
		code      apperrors.ErrorCode
		retryable bool
	}{
		{"connection refused", closed.URL, apperrors.ErrCodeNetworkTimeout, true},
		{"unsupported scheme", "ftp://assessments.example.org", apperrors.ErrCodeInternal, false},
		{"missing scheme", "assessments.example.org", apperrors.ErrCodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewClient(time.Second).WithBaseURL(tt.baseURL).DoJSON(context.Background(), "op", http.MethodGet, "/", nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestWithHeader_DoesNotMutateParent(t *testing.T) {
	base := NewClient(time.Second)
	_ = base.WithHeader("X-User-ID", "u1")
	assert.Empty(t, base.headers)
}
