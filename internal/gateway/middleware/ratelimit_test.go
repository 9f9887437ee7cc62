package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgateway/internal/domain"
	"wsgateway/internal/gateway/adapter/inmem"
	"wsgateway/internal/gateway/middleware"
)

func rateLimited(rl *inmem.RateLimiter) http.Handler {
	return middleware.RateLimit(rl, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/v1/vectors", nil)
	req.RemoteAddr = remoteAddr
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	now := time.Now()
	h := rateLimited(inmem.NewRateLimiter(100, 3, func() time.Time { return now }))

	for i := range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:12345").Code, "request %d", i+1)
	}
}

func TestRateLimitDeniesWhenBurstExhausted(t *testing.T) {
	now := time.Now()
	h := rateLimited(inmem.NewRateLimiter(0.5, 2, func() time.Time { return now }))

	hit(h, "192.168.1.1:12345")
	hit(h, "192.168.1.1:54321") // same IP, different port
	rec := hit(h, "192.168.1.1:12345")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var resp domain.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.RetryAfter)
	assert.Equal(t, []domain.ErrorMessage{{Code: domain.CodeRateLimited, Message: "too many requests"}}, resp.Messages)
}

func TestRateLimitDifferentIPsIndependent(t *testing.T) {
	now := time.Now()
	h := rateLimited(inmem.NewRateLimiter(100, 1, func() time.Time { return now }))

	hit(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234").Code)
}

func TestRateLimitUnparsableRemoteAddr(t *testing.T) {
	now := time.Now()
	h := rateLimited(inmem.NewRateLimiter(100, 1, func() time.Time { return now }))

	assert.Equal(t, http.StatusOK, hit(h, "pipe").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "pipe").Code)
}
