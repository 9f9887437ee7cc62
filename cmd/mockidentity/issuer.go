package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wsgateway/internal/domain"
	"wsgateway/internal/gateway"
)

const issuerName = "mock-identity"

var (
	fullAccess = []domain.Scope{
		domain.ScopeVectorsRead, domain.ScopeVectorsWrite,
		domain.ScopeFilesRead, domain.ScopeFilesWrite,
	}
	readOnly = []domain.Scope{domain.ScopeVectorsRead, domain.ScopeFilesRead}
)

type account struct {
	password string
	scopes   []domain.Scope
}

// seedAccounts are the fixed logins of the mock service. The reader account
// can open sessions but every write is refused by the gateway.
var seedAccounts = map[string]account{
	"admin":  {password: "admin", scopes: fullAccess},
	"user":   {password: "password", scopes: fullAccess},
	"reader": {password: "reader", scopes: readOnly},
}

var seedAPIKeys = map[string]string{
	"test-api-key-1": "service-account-1",
}

// issuer signs tokens for the seeded accounts and publishes its key set.
type issuer struct {
	kid    string
	key    *rsa.PrivateKey
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func newIssuer(ttl time.Duration, logger *zap.Logger) (*issuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return &issuer{
		kid:    "mock-" + uuid.NewString(),
		key:    key,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

func (iss *issuer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", iss.serveKeys)
	mux.HandleFunc("POST /auth/token", iss.serveToken)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "service": issuerName})
	})
	return mux
}

func (iss *issuer) serveKeys(w http.ResponseWriter, _ *http.Request) {
	pub := iss.key.PublicKey
	writeJSON(w, map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"kid": iss.kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

func (iss *issuer) serveToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		gateway.WriteError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid JSON body")
		return
	}

	p, status, msg := authenticate(req)
	if status != http.StatusOK {
		code := domain.CodeUnauthorized
		if status == http.StatusBadRequest {
			code = domain.CodeInvalidRequest
		}
		gateway.WriteError(w, status, code, msg)
		return
	}

	signed, err := iss.sign(p)
	if err != nil {
		iss.logger.Error("signing token", zap.Error(err))
		gateway.WriteError(w, http.StatusInternalServerError, domain.CodeInternal, "failed to sign token")
		return
	}
	iss.logger.Info("token issued",
		zap.String("principal_id", p.ID),
		zap.Stringer("type", p.Type),
	)
	writeJSON(w, domain.TokenPair{
		AccessToken: signed,
		ExpiresIn:   int(iss.ttl.Seconds()),
		TokenType:   "Bearer",
	})
}

// authenticate resolves a login or API key to a principal. A non-200 status
// comes with the message to report.
func authenticate(req tokenRequest) (domain.Principal, int, string) {
	switch {
	case req.APIKey != "":
		id, ok := seedAPIKeys[req.APIKey]
		if !ok {
			return domain.Principal{}, http.StatusUnauthorized, "invalid API key"
		}
		return domain.Principal{ID: id, Type: domain.PrincipalService, Scopes: fullAccess}, http.StatusOK, ""
	case req.Username != "":
		acct, ok := seedAccounts[req.Username]
		if !ok || acct.password != req.Password {
			return domain.Principal{}, http.StatusUnauthorized, "invalid credentials"
		}
		return domain.Principal{ID: req.Username, Type: domain.PrincipalUser, Scopes: acct.scopes}, http.StatusOK, ""
	default:
		return domain.Principal{}, http.StatusBadRequest, "provide username/password or api_key"
	}
}

func (iss *issuer) sign(p domain.Principal) (string, error) {
	issued := iss.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":    issuerName,
		"sub":    p.ID,
		"type":   p.Type.String(),
		"scopes": p.ScopeString(),
		"iat":    issued.Unix(),
		"exp":    issued.Add(iss.ttl).Unix(),
	})
	token.Header["kid"] = iss.kid
	return token.SignedString(iss.key)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
