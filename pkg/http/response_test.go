package http_test

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/models"
	pkghttp "github.com/tmcalister/rampart/pkg/http"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteJSON(w, 200, map[string]string{"status": "ok"})

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &body)
	assert.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

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

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteTooManyRequests(w, "Too many requests")

	assert.Equal(t, 429, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"not found", models.ErrNotFound, 404, "not_found"},
		{"bad request", models.ErrBadRequest, 400, "bad_request"},
		{"conflict", models.ErrConflict, 409, "conflict"},
		{"self action", models.ErrSelfActionForbidden, 403, "forbidden"},
		{"locked", models.ErrAccountLocked, 403, "forbidden"},
		{"second factor disabled", models.ErrSecondFactorNotEnabled, 400, "bad_request"},
		{"alert not active", models.ErrAlertNotActive, 409, "conflict"},
		{"unknown", errors.New("boom"), 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteDomainError(w, tt.err)

			assert.Equal(t, tt.wantCode, w.Code)

			var resp pkghttp.ErrorResponse
			err := json.Unmarshal(w.Body.Bytes(), &resp)
			assert.NoError(t, err)
			assert.Equal(t, tt.wantErr, resp.Error)
		})
	}
}

func TestWriteDomainErrorWrapped(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteDomainError(w, errors.Join(errors.New("context"), models.ErrNotFound))

	assert.Equal(t, 404, w.Code)
}
