package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"wsgateway/internal/domain"
)

// Headers the gateway sets on every backend call. Backends trust them
// because only the gateway can reach them.
const (
	HeaderPrincipalID     = "X-Principal-ID"
	HeaderPrincipalScopes = "X-Principal-Scopes"
	HeaderRequestID       = "X-Request-ID"
	HeaderFrameID         = "X-Frame-ID"
)

// resolve checks that a frame's path stays under the route's API prefix and
// returns the backend URL to call.
func (rt route) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil || ref.Scheme != "" || ref.Host != "" || ref.User != nil {
		return nil, outsidePrefix(rt.apiPrefix)
	}
	clean := path.Clean(ref.Path)
	if clean != rt.apiPrefix && !strings.HasPrefix(clean, rt.apiPrefix+"/") {
		return nil, outsidePrefix(rt.apiPrefix)
	}

	target := *rt.backendURL
	target.Path = strings.TrimRight(target.Path, "/") + clean
	target.RawPath = ""
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return &target, nil
}

func outsidePrefix(prefix string) error {
	return &domain.Error{
		Code:     domain.CodeInvalidRequest,
		Message:  fmt.Sprintf("path must be under %s", prefix),
		Property: "path",
	}
}

// call performs one backend request. Transport failures are reported without
// the backend address.
func (r *Router) call(ctx context.Context, info *sessionInfo, req *domain.RelayRequest, target *url.URL) (domain.RelayResponse, error) {
	var zero domain.RelayResponse
	ctx, cancel := context.WithTimeout(ctx, r.backendTimeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), target.String(), body)
	if err != nil {
		return zero, domain.WrapError(domain.CodeInvalidRequest, "invalid request", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set(HeaderPrincipalID, info.principal.ID)
	httpReq.Header.Set(HeaderPrincipalScopes, info.principal.ScopeString())
	if info.requestID != "" {
		httpReq.Header.Set(HeaderRequestID, info.requestID)
	}
	if req.ID != "" {
		httpReq.Header.Set(HeaderFrameID, req.ID)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.recordBackend(info, http.StatusBadGateway, start)
		info.logger.Warn("backend request failed",
			zap.String("method", httpReq.Method),
			zap.String("path", target.Path),
			zap.Error(err),
		)
		return zero, domain.WrapError(domain.CodeBackendUnavailable, "backend unavailable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.maxResponseBytes)+1))
	if err != nil {
		r.recordBackend(info, http.StatusBadGateway, start)
		return zero, domain.WrapError(domain.CodeBackendUnavailable, "backend unavailable", err)
	}
	r.recordBackend(info, resp.StatusCode, start)
	if len(payload) > r.maxResponseBytes {
		return zero, domain.NewError(domain.CodeBackendUnavailable, "backend response too large")
	}

	return domain.RelayResponse{
		ID:          req.ID,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(payload),
	}, nil
}

func (r *Router) recordBackend(info *sessionInfo, status int, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordBackendRequest(context.Background(), info.route.backend, status, time.Since(start).Seconds())
}
