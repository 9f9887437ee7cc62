package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"wsgateway/internal/domain"
)

// WriteError writes a single-entry JSON ErrorResponse. WebSocket sessions
// report failures as XML through the wire package instead; this is for the
// plain HTTP surface, including rejected upgrades.
func WriteError(w http.ResponseWriter, status int, code domain.ErrorCode, msg string) {
	writeResponse(w, status, code, msg, 0)
}

// WriteRateLimited writes a 429 with a Retry-After header.
func WriteRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeResponse(w, http.StatusTooManyRequests, domain.CodeRateLimited, "too many requests", retryAfter)
}

func writeResponse(w http.ResponseWriter, status int, code domain.ErrorCode, msg string, retryAfter int) {
	resp := domain.ErrorResponse{RetryAfter: retryAfter}
	resp.AddErrorMessage(code, msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zap.L().Error("encoding error response", zap.Error(err))
	}
}
