// Package mockbackend is a stand-in for the relayed backends used by local
// runs and tests. It answers every request with an XML Echo document.
package mockbackend

import (
	"encoding/xml"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wsgateway/internal/wire"
)

// Echo describes the request the backend received.
type Echo struct {
	XMLName         xml.Name `xml:"urn:wsgateway:mock:v1 Echo"`
	Backend         string   `xml:"backend"`
	Method          string   `xml:"method"`
	Path            string   `xml:"path"`
	Query           string   `xml:"query,omitempty"`
	PrincipalID     string   `xml:"principalId"`
	PrincipalScopes string   `xml:"principalScopes"`
	RequestID       string   `xml:"requestId"`
	Authorization   string   `xml:"authorization,omitempty"`
	Body            string   `xml:"body,omitempty"`
}

var echoShape = wire.ShapeOf[Echo]()

// Options tune the simulated backend.
type Options struct {
	// LatencyBase and LatencyJitter delay every answer by base + rand(jitter).
	LatencyBase   time.Duration
	LatencyJitter time.Duration
	Logger        *zap.Logger
}

// Handler returns the echo handler for the named backend. A `status` query
// parameter selects the response status, which lets tests exercise backend
// errors.
func Handler(name string, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok","service":"`+name+`"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		simulateWork(opts.LatencyBase, opts.LatencyJitter)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		echo := Echo{
			Backend:         name,
			Method:          r.Method,
			Path:            r.URL.Path,
			Query:           r.URL.RawQuery,
			PrincipalID:     r.Header.Get("X-Principal-ID"),
			PrincipalScopes: r.Header.Get("X-Principal-Scopes"),
			RequestID:       r.Header.Get("X-Request-ID"),
			Authorization:   r.Header.Get("Authorization"),
			Body:            string(body),
		}
		text, err := wire.Encode(echo, echoShape)
		if err != nil {
			logger.Error("encoding echo", zap.Error(err))
			http.Error(w, "encoding echo", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if s, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil && s >= 200 && s <= 599 {
			status = s
		}
		logger.Debug("echo",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", echo.RequestID),
		)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		io.WriteString(w, text)
	})
	return mux
}

// DecodeEcho parses a body produced by Handler.
func DecodeEcho(text string) (Echo, error) {
	return wire.Decode(text, echoShape)
}

// simulateWork sleeps for base + random(0, jitter) to mimic real backend processing.
func simulateWork(base, jitter time.Duration) {
	if base == 0 && jitter == 0 {
		return
	}
	delay := base
	if jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	time.Sleep(delay)
}
