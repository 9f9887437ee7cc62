package domain

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

// RelayNamespace is the XML namespace of relay frames.
const RelayNamespace = "urn:wsgateway:relay:v1"

// RelayRequest is an inbound WebSocket frame asking the gateway to call a
// backend on the peer's behalf.
type RelayRequest struct {
	XMLName     xml.Name `xml:"urn:wsgateway:relay:v1 RelayRequest"`
	ID          string   `xml:"id,attr,omitempty"`
	Method      string   `xml:"method"`
	Path        string   `xml:"path"`
	ContentType string   `xml:"contentType,omitempty"`
	Body        string   `xml:"body,omitempty"`
}

// Validate reports missing or unsupported fields.
func (r RelayRequest) Validate() error {
	if strings.TrimSpace(r.Method) == "" {
		return &Error{Code: CodeWebsocketDecoder, Message: "method is required", Property: "method"}
	}
	if !strings.HasPrefix(r.Path, "/") {
		return &Error{Code: CodeWebsocketDecoder, Message: "path must be absolute", Property: "path"}
	}
	switch strings.ToUpper(r.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	default:
		return &Error{
			Code:     CodeWebsocketDecoder,
			Message:  fmt.Sprintf("unsupported method %q", r.Method),
			Property: "method",
		}
	}
}

// IsWrite reports whether the request mutates backend state.
func (r RelayRequest) IsWrite() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// RelayResponse carries the backend's answer to one RelayRequest.
type RelayResponse struct {
	XMLName     xml.Name `xml:"urn:wsgateway:relay:v1 RelayResponse"`
	ID          string   `xml:"id,attr,omitempty"`
	Status      int      `xml:"status"`
	ContentType string   `xml:"contentType,omitempty"`
	Body        string   `xml:"body,omitempty"`
}
