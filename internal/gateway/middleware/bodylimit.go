package middleware

import (
	"net/http"

	"wsgateway/internal/domain"
	gw "wsgateway/internal/gateway"
)

// MaxBodySize returns middleware that limits request body size to maxBytes.
// A declared Content-Length over the limit is refused up front with 413;
// otherwise the body is wrapped so reading past the limit fails. WebSocket
// frames are bounded by the session's frame limit instead.
func MaxBodySize(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				gw.WriteError(w, http.StatusRequestEntityTooLarge, domain.CodeInvalidRequest, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
