package domain

import (
	"encoding/xml"
	"errors"
)

// Sentinel errors used across service boundaries.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrKeyNotFound        = errors.New("signing key not found")
)

// ErrorCode is a stable identifier that classifies a failure without exposing
// internal detail. It is safe to send to a remote peer.
type ErrorCode string

// Codes raised by the WebSocket boundary layer.
const (
	CodeWebsocketEncoder ErrorCode = "CORE-WS-01"
	CodeWebsocketDecoder ErrorCode = "CORE-WS-02"
	CodeWebsocketGeneral ErrorCode = "CORE-WS-03"
)

// Codes raised by the gateway itself.
const (
	CodeUnauthorized       ErrorCode = "GW-AUTH-01"
	CodeForbidden          ErrorCode = "GW-AUTH-02"
	CodeRateLimited        ErrorCode = "GW-RATE-01"
	CodeInvalidRequest     ErrorCode = "GW-REQ-01"
	CodeBackendUnavailable ErrorCode = "GW-BE-01"
	CodeInternal           ErrorCode = "GW-INT-01"
)

// CommonsNamespace is the XML namespace of the shared error envelope.
const CommonsNamespace = "urn:wsgateway:commons:v1"

// CodedError is implemented by failures that already carry an ErrorCode.
// ErrorMessage is the peer-safe text; it never includes the wrapped cause.
type CodedError interface {
	error
	ErrorCode() ErrorCode
	ErrorMessage() string
}

// Error is the gateway's own code-carrying failure.
type Error struct {
	Code     ErrorCode
	Message  string
	Property string
	Cause    error
}

// NewError returns an Error without a cause.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError returns an Error that keeps cause for diagnostics.
func WrapError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorCode implements CodedError.
func (e *Error) ErrorCode() ErrorCode {
	if e == nil {
		return ""
	}
	return e.Code
}

// ErrorMessage implements CodedError.
func (e *Error) ErrorMessage() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ErrorMessage is one entry of an ErrorResponse.
type ErrorMessage struct {
	Code     ErrorCode `xml:"Code" json:"code"`
	Message  string    `xml:"Message" json:"message"`
	Property string    `xml:"Property,omitempty" json:"property,omitempty"`
}

// ErrorResponse is the standard error envelope returned to clients: XML over
// WebSocket sessions, JSON over plain HTTP.
type ErrorResponse struct {
	XMLName    xml.Name       `xml:"urn:wsgateway:commons:v1 ErrorResponse" json:"-"`
	Messages   []ErrorMessage `xml:"ErrorMessage" json:"errors"`
	RetryAfter int            `xml:"-" json:"retry_after,omitempty"`
}

// AddErrorMessage appends an entry, preserving insertion order.
func (r *ErrorResponse) AddErrorMessage(code ErrorCode, msg string) {
	r.Messages = append(r.Messages, ErrorMessage{Code: code, Message: msg})
}
