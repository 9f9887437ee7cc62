package middleware

import (
	"net"
	"net/http"

	gw "wsgateway/internal/gateway"
	"wsgateway/internal/platform/telemetry"
)

// RateLimit limits requests per client IP, which for the relay means
// WebSocket upgrades. Frames inside a session are limited per session by the
// relay itself. m may be nil.
func RateLimit(limiter gw.RateLimiter, m *telemetry.GatewayMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Allow(clientIP(r))
			if m != nil {
				m.RecordRateLimitDecision(r.Context(), "ip", decision(res))
			}
			if !res.Allowed {
				gw.WriteRateLimited(w, res.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decision(res gw.RateLimitResult) string {
	if res.Allowed {
		return "allowed"
	}
	return "denied"
}

// clientIP is the peer address only. X-Forwarded-For is client controlled
// and the gateway has no trusted proxy list.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
