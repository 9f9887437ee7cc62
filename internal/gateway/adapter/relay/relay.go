// Package relay serves the gateway's WebSocket endpoints. Each inbound frame
// is an XML RelayRequest that is forwarded to the route's backend over HTTP;
// the answer goes back on the same session as a RelayResponse, and any
// failure as an ErrorResponse.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"wsgateway/internal/domain"
	gw "wsgateway/internal/gateway"
	"wsgateway/internal/gateway/adapter/wsconn"
	"wsgateway/internal/platform/telemetry"
	"wsgateway/internal/wire"
)

const (
	defaultBackendTimeout   = 15 * time.Second
	defaultMaxResponseBytes = 1 << 20
)

var (
	requestShape  = wire.ShapeOf[domain.RelayRequest]()
	responseShape = wire.ShapeOf[domain.RelayResponse]()
)

// route maps a WebSocket endpoint to a backend with its required scopes.
type route struct {
	endpoint   string // WebSocket path, e.g. /ws/v1/vectors
	apiPrefix  string // backend paths a frame may target, e.g. /v1/vectors
	backend    string // metrics label
	backendURL *url.URL
	readScope  domain.Scope
	writeScope domain.Scope
}

// Options tune the router. Zero values select defaults.
type Options struct {
	Session          wsconn.Options
	BackendTimeout   time.Duration
	MaxResponseBytes int
	// AllowedOrigins restricts the Origin header on upgrades; empty allows any.
	AllowedOrigins []string
	// FrameLimiter is keyed by session ID; nil disables per-session limits.
	FrameLimiter gw.RateLimiter
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Metrics      *telemetry.GatewayMetrics
}

// Router routes authenticated WebSocket sessions to backend services.
type Router struct {
	mux              *http.ServeMux
	routes           []route
	client           *http.Client
	backendTimeout   time.Duration
	maxResponseBytes int
	sessionOpts      wsconn.Options
	origins          map[string]struct{}
	limiter          gw.RateLimiter
	logger           *zap.Logger
	metrics          *telemetry.GatewayMetrics
	reporter         *wire.Reporter

	draining atomic.Bool
	mu       sync.Mutex
	sessions map[*wsconn.Session]context.CancelFunc
}

// NewRouter creates a router that relays to the given backend URLs.
func NewRouter(vectorDBURL, fileServiceURL string, opts Options) (*Router, error) {
	vectorDB, err := parseBackendURL(vectorDBURL)
	if err != nil {
		return nil, fmt.Errorf("parse vector DB URL: %w", err)
	}
	fileSvc, err := parseBackendURL(fileServiceURL)
	if err != nil {
		return nil, fmt.Errorf("parse file service URL: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = defaultBackendTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}

	r := &Router{
		mux: http.NewServeMux(),
		routes: []route{
			{
				endpoint: "/ws/v1/vectors", apiPrefix: "/v1/vectors", backend: "vectordb", backendURL: vectorDB,
				readScope: domain.ScopeVectorsRead, writeScope: domain.ScopeVectorsWrite,
			},
			{
				endpoint: "/ws/v1/files", apiPrefix: "/v1/files", backend: "fileservice", backendURL: fileSvc,
				readScope: domain.ScopeFilesRead, writeScope: domain.ScopeFilesWrite,
			},
		},
		client:           opts.HTTPClient,
		backendTimeout:   opts.BackendTimeout,
		maxResponseBytes: opts.MaxResponseBytes,
		sessionOpts:      opts.Session,
		limiter:          opts.FrameLimiter,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		reporter:         wire.NewReporter(opts.Logger, opts.Metrics),
		sessions:         make(map[*wsconn.Session]context.CancelFunc),
	}
	if len(opts.AllowedOrigins) > 0 {
		r.origins = make(map[string]struct{}, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			r.origins[strings.TrimRight(o, "/")] = struct{}{}
		}
	}

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)
	for _, rt := range r.routes {
		r.mux.Handle("GET "+rt.endpoint, r.makeHandler(rt))
	}
	return r, nil
}

func parseBackendURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Shutdown stops accepting sessions, cancels in-flight backend calls and
// closes every open session. It is safe to call more than once.
func (r *Router) Shutdown() {
	r.draining.Store(true)

	r.mu.Lock()
	open := make(map[*wsconn.Session]context.CancelFunc, len(r.sessions))
	for s, cancel := range r.sessions {
		open[s] = cancel
	}
	r.mu.Unlock()

	for s, cancel := range open {
		cancel()
		if err := s.Close(); err != nil {
			r.logger.Debug("closing session", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}
}

// ActiveSessions reports the number of open sessions.
func (r *Router) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// makeHandler authorizes the upgrade before handing the connection to the
// WebSocket server; a rejected upgrade gets a JSON error like any other HTTP
// request.
func (r *Router) makeHandler(rt route) http.Handler {
	ws := websocket.Server{
		Handshake: r.handshake,
		Handler:   func(conn *websocket.Conn) { r.serveSession(conn, rt) },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.draining.Load() {
			gw.WriteError(w, http.StatusServiceUnavailable, domain.CodeBackendUnavailable, "gateway shutting down")
			return
		}
		principal, ok := gw.PrincipalFromContext(req.Context())
		if !ok {
			gw.WriteError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authentication required")
			return
		}
		if !principal.HasScope(rt.readScope) {
			gw.WriteError(w, http.StatusForbidden, domain.CodeForbidden, "insufficient permissions")
			return
		}
		if !isWebSocketUpgrade(req) {
			gw.WriteError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "websocket upgrade required")
			return
		}
		ws.ServeHTTP(w, req)
	})
}

func isWebSocketUpgrade(req *http.Request) bool {
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range strings.Split(req.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return true
		}
	}
	return false
}

// handshake replaces the library's default, which refuses clients that send
// no Origin at all. Headers set on the ResponseWriter are lost once the
// connection is hijacked, so the request ID goes out through cfg.Header.
func (r *Router) handshake(cfg *websocket.Config, req *http.Request) error {
	if r.origins != nil {
		origin := strings.TrimRight(req.Header.Get("Origin"), "/")
		if _, ok := r.origins[origin]; !ok {
			return fmt.Errorf("origin %q not allowed", origin)
		}
	}
	if id := gw.RequestIDFromContext(req.Context()); id != "" {
		if cfg.Header == nil {
			cfg.Header = make(http.Header)
		}
		cfg.Header.Set("X-Request-ID", id)
	}
	return nil
}

// sessionInfo is what a session knows about its peer, fixed at upgrade.
type sessionInfo struct {
	route     route
	principal domain.Principal
	requestID string
	sess      *wsconn.Session
	logger    *zap.Logger
}

func (r *Router) serveSession(conn *websocket.Conn, rt route) {
	req := conn.Request()
	principal, _ := gw.PrincipalFromContext(req.Context())
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	sess := wsconn.New(conn, r.sessionOpts)
	info := &sessionInfo{
		route:     rt,
		principal: principal,
		requestID: gw.RequestIDFromContext(req.Context()),
		sess:      sess,
	}
	info.logger = r.logger.With(
		zap.String("session_id", sess.ID()),
		zap.String("backend", rt.backend),
		zap.String("principal_id", principal.ID),
		zap.String("request_id", info.requestID),
	)

	if !r.track(sess, cancel) {
		sess.Close()
		return
	}
	if r.metrics != nil {
		r.metrics.SessionOpened(ctx, rt.backend)
	}
	info.logger.Info("session opened", zap.String("remote_addr", req.RemoteAddr))

	defer func() {
		r.untrack(sess)
		if err := sess.Close(); err != nil {
			info.logger.Debug("closing session", zap.Error(err))
		}
		if r.limiter != nil {
			r.limiter.Forget(sess.ID())
		}
		if r.metrics != nil {
			r.metrics.SessionClosed(context.Background(), rt.backend)
		}
		info.logger.Info("session closed")
	}()

	for {
		text, err := sess.Receive()
		if err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				r.report(ctx, info, domain.WrapError(domain.CodeInvalidRequest, "frame too large", err))
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				info.logger.Debug("session read ended", zap.Error(err))
			}
			return
		}
		r.handleFrame(ctx, info, text)
	}
}

func (r *Router) track(sess *wsconn.Session, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining.Load() {
		return false
	}
	r.sessions[sess] = cancel
	return true
}

func (r *Router) untrack(sess *wsconn.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sess)
}

// handleFrame relays one frame. Frames of a session are handled one at a
// time, so responses leave in the order requests arrived.
func (r *Router) handleFrame(ctx context.Context, info *sessionInfo, text string) {
	defer func() {
		if v := recover(); v != nil {
			info.logger.Error("panic in frame handler",
				zap.Any("panic", v),
				zap.String("stack", string(debug.Stack())),
			)
			r.report(ctx, info, wire.PanicError(v))
		}
	}()

	if r.metrics != nil {
		r.metrics.RecordFrame(ctx, info.route.backend, "in")
	}
	if err := r.relay(ctx, info, text); err != nil {
		r.report(ctx, info, err)
	}
}

func (r *Router) report(_ context.Context, info *sessionInfo, err error) {
	info.logger.Debug("frame failed", zap.Error(err))
	r.reporter.HandleFailure(info.sess, err)
}

func (r *Router) relay(ctx context.Context, info *sessionInfo, text string) error {
	if err := r.allowFrame(ctx, info); err != nil {
		return err
	}

	req, err := wire.Decode(text, requestShape)
	if err != nil {
		return err
	}
	target, err := info.route.resolve(req.Path)
	if err != nil {
		return err
	}
	if req.IsWrite() && !info.principal.HasScope(info.route.writeScope) {
		return domain.NewError(domain.CodeForbidden, "insufficient permissions")
	}

	resp, err := r.call(ctx, info, &req, target)
	if err != nil {
		return err
	}
	out, err := wire.Encode(resp, responseShape)
	if err != nil {
		return err
	}

	info.sess.SendAsync(out, func(err error) {
		if err != nil {
			info.logger.Warn("response not delivered", zap.String("frame_id", resp.ID), zap.Error(err))
			return
		}
		if r.metrics != nil {
			r.metrics.RecordFrame(context.Background(), info.route.backend, "out")
		}
	})
	return nil
}

func (r *Router) allowFrame(ctx context.Context, info *sessionInfo) error {
	if r.limiter == nil {
		return nil
	}
	res := r.limiter.Allow(info.sess.ID())
	if r.metrics != nil {
		decision := "allowed"
		if !res.Allowed {
			decision = "denied"
		}
		r.metrics.RecordRateLimitDecision(ctx, "session", decision)
	}
	if !res.Allowed {
		return domain.NewError(domain.CodeRateLimited,
			fmt.Sprintf("too many messages, retry after %ds", res.RetryAfter))
	}
	return nil
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	if r.draining.Load() {
		writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeStatus(w, http.StatusOK, map[string]any{"status": "ready", "sessions": r.ActiveSessions()})
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("encoding status response", zap.Error(err))
	}
}
