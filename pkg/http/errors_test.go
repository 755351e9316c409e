package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/okellodev/authgate/pkg/http"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w *httptest.ResponseRecorder)
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "bad request",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "Invalid input") },
			wantStatus: 400,
			wantCode:   "bad_request",
			wantMsg:    "Invalid input",
		},
		{
			name:       "not found",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "Flow not found") },
			wantStatus: 404,
			wantCode:   "not_found",
			wantMsg:    "Flow not found",
		},
		{
			name:       "conflict",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "Wrong phase") },
			wantStatus: 409,
			wantCode:   "conflict",
			wantMsg:    "Wrong phase",
		},
		{
			name:       "too many requests",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "Too many requests") },
			wantStatus: 429,
			wantCode:   "rate_limit_exceeded",
			wantMsg:    "Too many requests",
		},
		{
			name:       "internal error",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "Internal server error") },
			wantStatus: 500,
			wantCode:   "internal_error",
			wantMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp pkghttp.ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}
