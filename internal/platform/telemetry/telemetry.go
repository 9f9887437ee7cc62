package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup installs a global meter provider exporting to the default
// Prometheus registry, tagged with serviceName. The returned function flushes
// and detaches the exporter.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// GatewayMetrics holds all OTel instruments for the gateway.
type GatewayMetrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	authValidationsTotal    otelmetric.Int64Counter
	jwksRefreshesTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	backendRequestsTotal    otelmetric.Int64Counter
	backendDuration         otelmetric.Float64Histogram
	sessionsActive          otelmetric.Int64UpDownCounter
	framesTotal             otelmetric.Int64Counter
	errorReportsTotal       otelmetric.Int64Counter
	reportSendFailures      otelmetric.Int64Counter
}

// NewGatewayMetrics creates the gateway instruments on the global meter
// provider, so Setup must run first for them to be exported.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	b := builder{meter: otel.Meter("wsgateway")}
	m := &GatewayMetrics{
		httpRequestsTotal:       b.counter("gateway_http_requests_total", "Total HTTP requests, including WebSocket upgrades"),
		httpRequestDuration:     b.histogram("gateway_http_request_duration_seconds", "HTTP request duration; for upgrades, the session lifetime"),
		authValidationsTotal:    b.counter("gateway_auth_validations_total", "Total auth validations"),
		jwksRefreshesTotal:      b.counter("gateway_jwks_refreshes_total", "Total JWKS refreshes"),
		rateLimitDecisionsTotal: b.counter("gateway_ratelimit_decisions_total", "Total rate limit decisions"),
		backendRequestsTotal:    b.counter("gateway_backend_requests_total", "Total relayed backend requests"),
		backendDuration:         b.histogram("gateway_backend_duration_seconds", "Relayed backend request duration"),
		sessionsActive:          b.upDown("gateway_ws_sessions_active", "Open WebSocket sessions"),
		framesTotal:             b.counter("gateway_ws_frames_total", "WebSocket frames by direction"),
		errorReportsTotal:       b.counter("gateway_ws_error_reports_total", "Error responses pushed to peers, by code"),
		reportSendFailures:      b.counter("gateway_ws_error_report_send_failures_total", "Error responses the transport failed to deliver"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

var latencyBuckets = otelmetric.WithExplicitBucketBoundaries(
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
)

// builder keeps the first instrument creation error.
type builder struct {
	meter otelmetric.Meter
	err   error
}

func (b *builder) note(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("creating %s: %w", name, err)
	}
}

func (b *builder) counter(name, desc string) otelmetric.Int64Counter {
	c, err := b.meter.Int64Counter(name, otelmetric.WithDescription(desc))
	b.note(name, err)
	return c
}

func (b *builder) upDown(name, desc string) otelmetric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, otelmetric.WithDescription(desc))
	b.note(name, err)
	return c
}

func (b *builder) histogram(name, desc string) otelmetric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, otelmetric.WithDescription(desc), latencyBuckets)
	b.note(name, err)
	return h
}

// RecordHTTPRequest records an HTTP request metric.
func (m *GatewayMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		keyMethod.String(method),
		keyPath.String(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthValidation records an auth validation result.
func (m *GatewayMetrics) RecordAuthValidation(ctx context.Context, result string) {
	m.authValidationsTotal.Add(ctx, 1, otelmetric.WithAttributes(keyResult.String(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *GatewayMetrics) RecordJWKSRefresh(ctx context.Context, result string) {
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(keyResult.String(result)))
}

// RecordRateLimitDecision records a rate limit decision. Layer is "ip" for
// upgrades and "session" for frames.
func (m *GatewayMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		keyLayer.String(layer),
		keyResult.String(result),
	))
}

// RecordBackendRequest records one relayed call to a backend.
func (m *GatewayMetrics) RecordBackendRequest(ctx context.Context, backend string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		keyBackend.String(backend),
		statusAttr(status),
	)
	m.backendRequestsTotal.Add(ctx, 1, attrs)
	m.backendDuration.Record(ctx, durationSec, attrs)
}

// SessionOpened increments the open session gauge.
func (m *GatewayMetrics) SessionOpened(ctx context.Context, backend string) {
	m.sessionsActive.Add(ctx, 1, otelmetric.WithAttributes(keyBackend.String(backend)))
}

// SessionClosed decrements the open session gauge.
func (m *GatewayMetrics) SessionClosed(ctx context.Context, backend string) {
	m.sessionsActive.Add(ctx, -1, otelmetric.WithAttributes(keyBackend.String(backend)))
}

// RecordFrame counts a frame; direction is "in" or "out".
func (m *GatewayMetrics) RecordFrame(ctx context.Context, backend, direction string) {
	m.framesTotal.Add(ctx, 1, otelmetric.WithAttributes(
		keyBackend.String(backend),
		keyDirection.String(direction),
	))
}

// RecordErrorReport counts an error response pushed to a peer.
func (m *GatewayMetrics) RecordErrorReport(ctx context.Context, code string) {
	m.errorReportsTotal.Add(ctx, 1, otelmetric.WithAttributes(keyCode.String(code)))
}

// RecordReportSendFailure counts an error response the transport rejected.
func (m *GatewayMetrics) RecordReportSendFailure(ctx context.Context) {
	m.reportSendFailures.Add(ctx, 1)
}
