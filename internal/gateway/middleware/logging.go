package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	gw "wsgateway/internal/gateway"
)

// Logging returns a middleware that logs one line per request. For a
// WebSocket upgrade the line is written when the session ends, with status
// 101 and the session's full duration.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			ctx, principal := gw.TrackPrincipal(r.Context())
			r = r.WithContext(ctx)

			next.ServeHTTP(sw, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.Code),
				zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
				zap.String("request_id", gw.RequestIDFromContext(r.Context())),
				zap.String("principal_id", principal().ID),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
