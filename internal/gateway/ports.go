package gateway

import (
	"bufio"
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"net/http"

	"wsgateway/internal/domain"
)

// JWKSProvider fetches and caches public keys from the identity service's JWKS endpoint.
type JWKSProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
// Keys are client IPs for upgrades and session IDs for frames.
type RateLimiter interface {
	Allow(key string) RateLimitResult
	// Forget drops any state held for key.
	Forget(key string)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code. It
// passes Hijack through so WebSocket upgrades work behind it; a hijacked
// connection is recorded as 101 Switching Protocols.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack: %T does not support hijacking", sw.ResponseWriter)
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		sw.Code = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *StatusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// PrincipalFromContext extracts the authenticated principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the authenticated principal in the context and
// reports it to an enclosing TrackPrincipal.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	if slot, ok := ctx.Value(principalSlotKey{}).(*domain.Principal); ok {
		*slot = p
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// TrackPrincipal lets an outer handler learn the principal authenticated
// further down the chain. The returned func must be called after the inner
// handler has returned.
func TrackPrincipal(ctx context.Context) (context.Context, func() domain.Principal) {
	slot := &domain.Principal{}
	return context.WithValue(ctx, principalSlotKey{}, slot), func() domain.Principal { return *slot }
}

type (
	principalKey     struct{}
	principalSlotKey struct{}
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
