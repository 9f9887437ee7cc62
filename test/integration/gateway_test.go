package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"wsgateway/internal/domain"
	"wsgateway/internal/gateway/adapter/inmem"
	"wsgateway/internal/gateway/adapter/jwks"
	"wsgateway/internal/gateway/adapter/relay"
	"wsgateway/internal/gateway/middleware"
	"wsgateway/internal/mockbackend"
	"wsgateway/internal/platform/server"
	"wsgateway/internal/platform/telemetry"
	"wsgateway/internal/testutil"
	"wsgateway/internal/wire"
)

const recvTimeout = 5 * time.Second

var (
	requestShape  = wire.ShapeOf[domain.RelayRequest]()
	responseShape = wire.ShapeOf[domain.RelayResponse]()
	errorShape    = wire.ShapeOf[domain.ErrorResponse]()
)

type env struct {
	baseURL string
	token   func(p domain.Principal, ttl time.Duration) string
	router  *relay.Router
}

type gatewayOptions struct {
	upgradeBurst int
	frameBurst   int
}

// startGateway wires up all gateway components the way cmd/wsgateway does
// and serves them on a loopback listener until the test ends.
func startGateway(t *testing.T, opts gatewayOptions) env {
	t.Helper()

	kid, priv, pub := testutil.GenerateTestKeyPair(t)
	jwksSrv := httptest.NewServer(testutil.MockJWKSHandler(kid, pub))
	t.Cleanup(jwksSrv.Close)
	vectorDB := httptest.NewServer(testutil.MockBackendHandler("vectordb"))
	t.Cleanup(vectorDB.Close)
	fileSvc := httptest.NewServer(testutil.MockBackendHandler("fileservice"))
	t.Cleanup(fileSvc.Close)

	shutdown, err := telemetry.Setup(context.Background(), "gateway-test")
	require.NoError(t, err)
	t.Cleanup(func() { shutdown(context.Background()) })
	metrics, err := telemetry.NewGatewayMetrics()
	require.NoError(t, err)

	if opts.upgradeBurst == 0 {
		opts.upgradeBurst = 100
	}
	if opts.frameBurst == 0 {
		opts.frameBurst = 100
	}
	now := time.Now()
	clock := func() time.Time { return now }

	logger := zap.NewNop()
	router, err := relay.NewRouter(vectorDB.URL, fileSvc.URL, relay.Options{
		FrameLimiter: inmem.NewRateLimiter(100, opts.frameBurst, clock),
		Logger:       logger,
		Metrics:      metrics,
	})
	require.NoError(t, err)

	publicPaths := []string{"/healthz", "/readyz", "/metrics"}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/", middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.Recovery,
		middleware.MaxBodySize(1<<20),
		middleware.RateLimit(inmem.NewRateLimiter(100, opts.upgradeBurst, clock), metrics),
		middleware.Auth(jwks.NewClient(jwksSrv.URL, time.Minute), publicPaths, metrics),
	))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := server.New(ln.Addr().String(), mux, logger)
	srv.OnShutdown(router.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return env{
		baseURL: "http://" + ln.Addr().String(),
		router:  router,
		token: func(p domain.Principal, ttl time.Duration) string {
			return testutil.IssueTestToken(t, kid, priv, p, ttl)
		},
	}
}

func send(t *testing.T, conn *websocket.Conn, req domain.RelayRequest) {
	t.Helper()
	text, err := wire.Encode(req, requestShape)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, text))
}

func receiveResponse(t *testing.T, conn *websocket.Conn) domain.RelayResponse {
	t.Helper()
	text := testutil.ReceiveText(t, conn, recvTimeout)
	resp, err := wire.Decode(text, responseShape)
	require.NoError(t, err, text)
	return resp
}

func receiveError(t *testing.T, conn *websocket.Conn) domain.ErrorMessage {
	t.Helper()
	text := testutil.ReceiveText(t, conn, recvTimeout)
	resp, err := wire.Decode(text, errorShape)
	require.NoError(t, err, text)
	require.Len(t, resp.Messages, 1)
	return resp.Messages[0]
}

func upgrade(t *testing.T, target, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorBody(t *testing.T, resp *http.Response) domain.ErrorResponse {
	t.Helper()
	var body domain.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Messages)
	return body
}

func TestFullRelayFlow(t *testing.T) {
	e := startGateway(t, gatewayOptions{})
	token := e.token(domain.Principal{
		ID:     "user-42",
		Type:   domain.PrincipalUser,
		Scopes: []domain.Scope{domain.ScopeVectorsRead, domain.ScopeVectorsWrite, domain.ScopeFilesRead},
	}, 15*time.Minute)

	t.Run("vector read", func(t *testing.T) {
		conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
		require.NoError(t, err)

		send(t, conn, domain.RelayRequest{ID: "v1", Method: "GET", Path: "/v1/vectors/ns1"})
		resp := receiveResponse(t, conn)
		assert.Equal(t, "v1", resp.ID)
		assert.Equal(t, http.StatusOK, resp.Status)

		echo, err := mockbackend.DecodeEcho(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "vectordb", echo.Backend)
		assert.Equal(t, "user-42", echo.PrincipalID)
		assert.Equal(t, "vectors:read vectors:write files:read", echo.PrincipalScopes)
		assert.NotEmpty(t, echo.RequestID)
		assert.Empty(t, echo.Authorization, "the token never reaches backends")
	})

	t.Run("vector write", func(t *testing.T) {
		conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
		require.NoError(t, err)

		send(t, conn, domain.RelayRequest{ID: "w", Method: "POST", Path: "/v1/vectors/ns1", Body: "<vec/>"})
		echo, err := mockbackend.DecodeEcho(receiveResponse(t, conn).Body)
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, echo.Method)
		assert.Equal(t, "<vec/>", echo.Body)
	})

	t.Run("file write without scope", func(t *testing.T) {
		conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/files", token)
		require.NoError(t, err)

		send(t, conn, domain.RelayRequest{Method: "DELETE", Path: "/v1/files/a"})
		assert.Equal(t, domain.CodeForbidden, receiveError(t, conn).Code)

		send(t, conn, domain.RelayRequest{ID: "still-open", Method: "GET", Path: "/v1/files/a"})
		assert.Equal(t, "still-open", receiveResponse(t, conn).ID)
	})

	t.Run("malformed frame", func(t *testing.T) {
		conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
		require.NoError(t, err)

		require.NoError(t, websocket.Message.Send(conn, `<RelayRequest xmlns="urn:wsgateway:relay:v1"><method>GET`))
		msg := receiveError(t, conn)
		assert.Equal(t, domain.CodeWebsocketDecoder, msg.Code)
		assert.Equal(t, "Error unmarshalling to type 'domain.RelayRequest' from websockets.", msg.Message)
	})

	t.Run("query token on upgrade", func(t *testing.T) {
		u, err := url.Parse(e.baseURL)
		require.NoError(t, err)
		u.Scheme = "ws"
		u.Path = "/ws/v1/vectors"
		u.RawQuery = url.Values{"access_token": {token}}.Encode()

		cfg, err := websocket.NewConfig(u.String(), testutil.TestOrigin)
		require.NoError(t, err)
		conn, err := websocket.DialConfig(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		send(t, conn, domain.RelayRequest{ID: "q", Method: "GET", Path: "/v1/vectors"})
		assert.Equal(t, "q", receiveResponse(t, conn).ID)
	})

	t.Run("unauthenticated upgrade returns 401", func(t *testing.T) {
		resp := upgrade(t, e.baseURL+"/ws/v1/vectors", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, domain.CodeUnauthorized, errorBody(t, resp).Messages[0].Code)

		_, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", "")
		assert.Error(t, err)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		expired := e.token(domain.Principal{ID: "user-1", Scopes: []domain.Scope{domain.ScopeVectorsRead}}, -time.Hour)
		resp := upgrade(t, e.baseURL+"/ws/v1/vectors", expired)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "token expired", errorBody(t, resp).Messages[0].Message)
	})

	t.Run("missing read scope returns 403", func(t *testing.T) {
		limited := e.token(domain.Principal{ID: "user-2", Scopes: []domain.Scope{domain.ScopeFilesRead}}, time.Minute)
		resp := upgrade(t, e.baseURL+"/ws/v1/vectors", limited)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, domain.CodeForbidden, errorBody(t, resp).Messages[0].Code)
	})

	t.Run("unknown path returns 404", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.baseURL+"/v1/unknown", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("healthz accessible without auth", func(t *testing.T) {
		resp, err := http.Get(e.baseURL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("request ID preserved", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.baseURL+"/healthz", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "custom-req-id")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "custom-req-id", resp.Header.Get("X-Request-ID"))
	})

	t.Run("metrics accessible without auth", func(t *testing.T) {
		resp, err := http.Get(e.baseURL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "gateway_ws_frames_total")
		assert.Contains(t, string(body), "gateway_ws_error_reports_total")
	})
}

func TestUpgradeRateLimiting(t *testing.T) {
	e := startGateway(t, gatewayOptions{upgradeBurst: 3})
	token := e.token(domain.Principal{ID: "user-1", Scopes: []domain.Scope{domain.ScopeVectorsRead}}, time.Minute)

	var last *http.Response
	for range 10 {
		last = upgrade(t, e.baseURL+"/ws/v1/vectors", token)
		if last.StatusCode == http.StatusTooManyRequests {
			break
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
	body := errorBody(t, last)
	assert.Equal(t, domain.CodeRateLimited, body.Messages[0].Code)
	assert.Positive(t, body.RetryAfter)
}

func TestSessionRateLimiting(t *testing.T) {
	e := startGateway(t, gatewayOptions{frameBurst: 2})
	token := e.token(domain.Principal{ID: "user-1", Scopes: []domain.Scope{domain.ScopeVectorsRead}}, time.Minute)

	conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		send(t, conn, domain.RelayRequest{ID: id, Method: "GET", Path: "/v1/vectors"})
		assert.Equal(t, id, receiveResponse(t, conn).ID)
	}
	send(t, conn, domain.RelayRequest{ID: "c", Method: "GET", Path: "/v1/vectors"})
	assert.Equal(t, domain.CodeRateLimited, receiveError(t, conn).Code)

	other, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
	require.NoError(t, err)
	send(t, other, domain.RelayRequest{ID: "fresh", Method: "GET", Path: "/v1/vectors"})
	assert.Equal(t, "fresh", receiveResponse(t, other).ID, "limits are per session")
}

func TestShutdownClosesSessions(t *testing.T) {
	e := startGateway(t, gatewayOptions{})
	token := e.token(domain.Principal{ID: "user-1", Scopes: []domain.Scope{domain.ScopeVectorsRead}}, time.Minute)

	conn, err := testutil.DialWS(t, e.baseURL, "/ws/v1/vectors", token)
	require.NoError(t, err)
	send(t, conn, domain.RelayRequest{Method: "GET", Path: "/v1/vectors"})
	receiveResponse(t, conn)

	e.router.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	var text string
	assert.Error(t, websocket.Message.Receive(conn, &text))
}
