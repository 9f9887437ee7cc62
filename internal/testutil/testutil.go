// Package testutil holds fixtures shared by the gateway's package and
// integration tests: signing keys, tokens, a JWKS endpoint, the echo backend
// and a WebSocket dialer.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"wsgateway/internal/domain"
	"wsgateway/internal/mockbackend"
)

// TestOrigin is the Origin header DialWS sends.
const TestOrigin = "http://localhost"

// TestIssuer is the iss claim of every token IssueTestToken signs.
const TestIssuer = "wsgateway-test"

// GenerateTestKeyPair returns a fresh key ID with a 2048-bit RSA key pair.
func GenerateTestKeyPair(t testing.TB) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generating RSA key")
	return "test-" + uuid.NewString(), priv, &priv.PublicKey
}

// IssueTestToken signs an RS256 token carrying the principal's claims.
// A negative ttl produces an already-expired token.
func IssueTestToken(t testing.TB, kid string, priv *rsa.PrivateKey, p domain.Principal, ttl time.Duration) string {
	t.Helper()
	issued := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":    TestIssuer,
		"sub":    p.ID,
		"type":   p.Type.String(),
		"scopes": p.ScopeString(),
		"iat":    issued.Unix(),
		"exp":    issued.Add(ttl).Unix(),
	})
	token.Header["kid"] = kid

	signed, err := token.SignedString(priv)
	require.NoError(t, err, "signing token")
	return signed
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// MockJWKSHandler serves a key set holding only pub under kid.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	set := struct {
		Keys []jwk `json:"keys"`
	}{Keys: []jwk{{
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	})
}

// MockBackendHandler returns the XML echo backend with no injected latency.
func MockBackendHandler(name string) http.Handler {
	return mockbackend.Handler(name, mockbackend.Options{})
}

// DialWS opens a WebSocket to path on the HTTP server at baseURL. A non-empty
// token is sent as a Bearer Authorization header. The connection is closed
// when the test ends.
func DialWS(t testing.TB, baseURL, path, token string) (*websocket.Conn, error) {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = path

	cfg, err := websocket.NewConfig(u.String(), TestOrigin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { conn.Close() })
	return conn, nil
}

// ReceiveText reads one text frame, failing the test after timeout.
func ReceiveText(t testing.TB, conn *websocket.Conn, timeout time.Duration) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var text string
	require.NoError(t, websocket.Message.Receive(conn, &text), "receiving frame")
	return text
}
