package wire

import (
	"context"

	"go.uber.org/zap"

	"wsgateway/internal/domain"
	"wsgateway/internal/platform/telemetry"
)

// Channel is the peer connection an error response is pushed to. SendAsync
// queues text and returns without waiting; done is called exactly once with
// the delivery outcome, possibly from another goroutine.
type Channel interface {
	SendAsync(text string, done func(error))
}

var errorResponseShape = ShapeOf[*domain.ErrorResponse]()

// Reporter pushes classified failures to peers.
type Reporter struct {
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics
}

// NewReporter creates a Reporter. Both arguments are optional: a nil logger
// discards send failures and a nil metrics skips counting.
func NewReporter(logger *zap.Logger, m *telemetry.GatewayMetrics) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger, metrics: m}
}

// HandleFailure reports failure to the peer on ch as an ErrorResponse with a
// single entry. It returns once the response is queued; delivery problems are
// logged and counted, never returned.
func (r *Reporter) HandleFailure(ch Channel, failure error) {
	entry := Classify(failure)
	if isNil(ch) {
		r.logger.Warn("dropping error response: no channel",
			zap.String("code", string(entry.Code)),
			zap.Error(failure),
		)
		return
	}

	response := &domain.ErrorResponse{}
	response.AddErrorMessage(entry.Code, entry.Message)
	text, err := Encode(response, errorResponseShape)
	if err != nil {
		r.logger.Error("encoding error response", zap.Error(err))
		return
	}

	if r.metrics != nil {
		r.metrics.RecordErrorReport(context.Background(), string(entry.Code))
	}
	r.logger.Debug("reporting failure to peer",
		zap.String("code", string(entry.Code)),
		zap.Error(failure),
	)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("error response not queued",
				zap.String("code", string(entry.Code)),
				zap.Error(PanicError(p)),
			)
		}
	}()
	ch.SendAsync(text, func(err error) {
		if err == nil {
			return
		}
		r.logger.Warn("error response not delivered",
			zap.String("code", string(entry.Code)),
			zap.Error(err),
		)
		if r.metrics != nil {
			r.metrics.RecordReportSendFailure(context.Background())
		}
	})
}

// HandleFailure reports failure on ch using the process-wide zap logger and
// no metrics.
func HandleFailure(ch Channel, failure error) {
	NewReporter(zap.L(), nil).HandleFailure(ch, failure)
}
