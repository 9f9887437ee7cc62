package wire

import (
	"errors"
	"fmt"

	"wsgateway/internal/domain"
)

var (
	ErrNilPayload      = errors.New("wire: nil payload")
	ErrCyclicPayload   = errors.New("wire: payload references itself")
	ErrEmptyDocument   = errors.New("wire: empty document")
	ErrTextOutsideRoot = errors.New("wire: character data outside root element")
	ErrTrailingContent = errors.New("wire: content after root element")
	ErrRootMismatch    = errors.New("wire: unexpected root element")
)

// EncodeError reports a payload that could not be represented as wire text.
type EncodeError struct {
	TypeName string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("wire: encode %s: %v", e.TypeName, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// ErrorCode implements domain.CodedError.
func (e *EncodeError) ErrorCode() domain.ErrorCode { return domain.CodeWebsocketEncoder }

// ErrorMessage implements domain.CodedError.
func (e *EncodeError) ErrorMessage() string {
	return fmt.Sprintf("Error marshalling to string from type '%s' for websockets.", e.TypeName)
}

// DecodeError reports wire text that does not resolve to the requested type.
// Detail is peer-safe context (the offending root element, a failed
// validation) and is empty for parser failures.
type DecodeError struct {
	TypeName string
	Detail   string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %s: %v", e.TypeName, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrorCode implements domain.CodedError.
func (e *DecodeError) ErrorCode() domain.ErrorCode { return domain.CodeWebsocketDecoder }

// ErrorMessage implements domain.CodedError.
func (e *DecodeError) ErrorMessage() string {
	msg := fmt.Sprintf("Error unmarshalling to type '%s' from websockets.", e.TypeName)
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	return msg
}
