package middleware

import (
	"net/http"
	"strings"
	"time"

	gw "wsgateway/internal/gateway"
	"wsgateway/internal/platform/telemetry"
)

// Metrics returns middleware that records HTTP request metrics.
// Place as the outermost middleware to capture the full request lifecycle.
// The metrics parameter is optional; a nil value disables the layer.
func Metrics(m *telemetry.GatewayMetrics) Middleware {
	if m == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &gw.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			m.RecordHTTPRequest(r.Context(), r.Method, pathLabel(r.URL.Path), sw.Code, time.Since(start).Seconds())
		})
	}
}

var knownPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// pathLabel bounds label cardinality: relay endpoints and probes keep their
// path, everything else is "other".
func pathLabel(path string) string {
	if _, ok := knownPaths[path]; ok || strings.HasPrefix(path, "/ws/") {
		return path
	}
	return "other"
}
