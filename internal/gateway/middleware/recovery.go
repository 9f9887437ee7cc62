package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"wsgateway/internal/domain"
	"wsgateway/internal/gateway"
)

// Recovery catches panics from downstream handlers and returns a 500 JSON
// error. The panic value is logged, never sent. Panics inside a WebSocket
// session are handled by the relay and reported on the session instead.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				zap.L().Error("panic recovered",
					zap.Any("error", v),
					zap.String("request_id", gateway.RequestIDFromContext(r.Context())),
					zap.String("stack", string(debug.Stack())),
				)
				gateway.WriteError(w, http.StatusInternalServerError, domain.CodeInternal, "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
