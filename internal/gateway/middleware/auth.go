package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"wsgateway/internal/domain"
	gw "wsgateway/internal/gateway"
	"wsgateway/internal/platform/telemetry"
)

const maxClockSkew = 30 * time.Second

// accessTokenParam carries the token for browser WebSocket clients, which
// cannot set an Authorization header on the upgrade request.
const accessTokenParam = "access_token"

// Auth returns a middleware that validates RS256 JWTs from the Authorization
// header, or from the access_token query parameter on WebSocket upgrades.
// Keys are looked up by kid through jwks. Paths in publicPaths are exempt.
// The metrics parameter is optional; pass nil to skip metric recording.
func Auth(jwks gw.JWKSProvider, publicPaths []string, m *telemetry.GatewayMetrics) Middleware {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			fail := func(msg string, err error) {
				if err != nil {
					zap.L().Debug("auth validation failed",
						zap.String("request_id", gw.RequestIDFromContext(r.Context())),
						zap.Error(err),
					)
				}
				if m != nil {
					m.RecordAuthValidation(r.Context(), "failure")
				}
				gw.WriteError(w, http.StatusUnauthorized, domain.CodeUnauthorized, msg)
			}

			tokenStr, ok := extractToken(r)
			if !ok {
				fail("missing or malformed authorization header", nil)
				return
			}

			// Only RS256 is accepted, which rules out algorithm confusion.
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
				kid, ok := t.Header["kid"].(string)
				if !ok || kid == "" {
					return nil, domain.ErrInvalidToken
				}
				return jwks.GetKey(r.Context(), kid)
			},
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithLeeway(maxClockSkew),
				jwt.WithExpirationRequired(),
			)
			if err != nil {
				msg := "invalid or expired token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				fail(msg, err)
				return
			}
			if !token.Valid {
				fail("invalid token", nil)
				return
			}

			principal, err := extractPrincipal(token.Claims)
			if err != nil {
				fail("invalid token claims", err)
				return
			}

			if m != nil {
				m.RecordAuthValidation(r.Context(), "success")
			}
			ctx := gw.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken prefers the Authorization header. The query parameter is only
// honoured on WebSocket upgrades so it cannot leak into ordinary request logs.
func extractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return bearerToken(auth)
	}
	if isUpgrade(r) {
		if tok := strings.TrimSpace(r.URL.Query().Get(accessTokenParam)); tok != "" {
			return tok, true
		}
	}
	return "", false
}

func bearerToken(auth string) (string, bool) {
	scheme, tok, ok := strings.Cut(auth, " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func extractPrincipal(claims jwt.Claims) (domain.Principal, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	ptype := domain.PrincipalUser
	if typeStr, ok := mc["type"].(string); ok && typeStr == "service" {
		ptype = domain.PrincipalService
	}

	scopes, _ := mc["scopes"].(string)
	return domain.Principal{
		ID:     sub,
		Type:   ptype,
		Scopes: domain.ParseScopes(scopes),
	}, nil
}
