package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgateway/internal/gateway"
	"wsgateway/internal/gateway/middleware"
)

func captureRequestID(req *http.Request) (string, *httptest.ResponseRecorder) {
	var captured string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = gateway.RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return captured, rec
}

func TestRequestIDSetsHeader(t *testing.T) {
	id, rec := captureRequestID(httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIncoming(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"plain", "existing-id", true},
		{"too long", strings.Repeat("a", 129), false},
		{"contains space", "two words", false},
		{"control character", "id\x01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", tt.incoming)
			id, _ := captureRequestID(req)
			if tt.keep {
				assert.Equal(t, tt.incoming, id)
				return
			}
			assert.NotEqual(t, tt.incoming, id)
			assert.NotEmpty(t, id)
		})
	}
}
