package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

// Label keys shared by the gateway instruments.
const (
	keyMethod    = attribute.Key("method")
	keyPath      = attribute.Key("path")
	keyStatus    = attribute.Key("status")
	keyResult    = attribute.Key("result")
	keyLayer     = attribute.Key("layer")
	keyBackend   = attribute.Key("backend")
	keyDirection = attribute.Key("direction")
	keyCode      = attribute.Key("code")
)

// statusAttr keeps HTTP status as a string label so 1xx upgrades and 5xx
// failures sort together in dashboards.
func statusAttr(status int) attribute.KeyValue {
	return keyStatus.String(strconv.Itoa(status))
}
