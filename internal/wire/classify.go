package wire

import (
	"errors"
	"fmt"

	"wsgateway/internal/domain"
)

const (
	unknownFailure = "unknown error"
	// reported for coded failures that carry no message of their own
	unspecifiedFailure = "request failed"
)

// Classify turns any failure into one error entry. Failures carrying a
// domain.ErrorCode keep their code and peer-safe message; anything else gets
// domain.CodeWebsocketGeneral and its own error text. Classify never panics,
// even on error values whose methods do.
func Classify(err error) (entry domain.ErrorMessage) {
	defer func() {
		if recover() != nil {
			entry = domain.ErrorMessage{Code: domain.CodeWebsocketGeneral, Message: unknownFailure}
		}
	}()

	if err == nil {
		return domain.ErrorMessage{Code: domain.CodeWebsocketGeneral, Message: unknownFailure}
	}
	var coded domain.CodedError
	if errors.As(err, &coded) && coded.ErrorCode() != "" {
		msg := coded.ErrorMessage()
		if msg == "" {
			msg = unspecifiedFailure
		}
		return domain.ErrorMessage{Code: coded.ErrorCode(), Message: msg}
	}
	msg := err.Error()
	if msg == "" {
		msg = unknownFailure
	}
	return domain.ErrorMessage{Code: domain.CodeWebsocketGeneral, Message: msg}
}

// PanicError converts a recovered panic value into an error whose text is the
// panic's own description.
func PanicError(v any) error {
	switch p := v.(type) {
	case nil:
		return errors.New(unknownFailure)
	case error:
		return p
	case string:
		return errors.New(p)
	default:
		return fmt.Errorf("%v", p)
	}
}
