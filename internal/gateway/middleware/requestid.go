package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"wsgateway/internal/gateway"
)

const maxRequestIDLen = 128

// RequestID assigns a unique request ID to each request. An incoming
// X-Request-ID header is preserved when it is short and printable; otherwise
// a fresh UUID replaces it. For a WebSocket the ID covers the whole session
// and is forwarded with every relayed frame.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
