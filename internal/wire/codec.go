package wire

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Validator is implemented by payloads that check their own required fields
// after decoding.
type Validator interface {
	Validate() error
}

// Encode renders v as wire text under shape. Self-referencing values and
// panics from a payload's own marshalling methods fail with EncodeError.
func Encode[T any](v T, shape Shape[T]) (text string, err error) {
	if isNil(v) {
		return "", &EncodeError{TypeName: shape.TypeName(), Err: ErrNilPayload}
	}
	if hasCycle(v) {
		return "", &EncodeError{TypeName: shape.TypeName(), Err: ErrCyclicPayload}
	}
	defer func() {
		if p := recover(); p != nil {
			text, err = "", &EncodeError{TypeName: shape.TypeName(), Err: PanicError(p)}
		}
	}()

	var sb strings.Builder
	enc := xml.NewEncoder(&sb)
	if err := enc.EncodeElement(v, xml.StartElement{Name: shape.Name}); err != nil {
		return "", &EncodeError{TypeName: shape.TypeName(), Err: err}
	}
	if err := enc.Close(); err != nil {
		return "", &EncodeError{TypeName: shape.TypeName(), Err: err}
	}
	return sb.String(), nil
}

// Decode parses text into a new T. The document must hold exactly one root
// element matching shape; on any failure, including a panic in the payload's
// own unmarshalling or validation, the zero T is returned.
func Decode[T any](text string, shape Shape[T]) (out T, err error) {
	var zero T
	fail := func(detail string, err error) (T, error) {
		return zero, &DecodeError{TypeName: shape.TypeName(), Detail: detail, Err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = fail("", PanicError(p))
		}
	}()

	dec := xml.NewDecoder(strings.NewReader(text))
	start, err := rootElement(dec)
	if err != nil {
		return fail("", err)
	}
	if !shape.accepts(start.Name) {
		return fail(
			fmt.Sprintf("Unexpected root element '%s'.", start.Name.Local),
			fmt.Errorf("%w: want %s, have %s", ErrRootMismatch, shape, displayName(start.Name)),
		)
	}

	var v T
	if err := dec.DecodeElement(&v, &start); err != nil {
		return fail("", err)
	}
	if err := expectEOF(dec); err != nil {
		return fail("", err)
	}
	if err := validate(&v); err != nil {
		return fail(validationDetail(err), err)
	}
	return v, nil
}

// rootElement advances dec to the first start element, skipping the prolog.
func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, ErrEmptyDocument
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return xml.StartElement{}, ErrTextOutsideRoot
			}
		}
	}
}

// expectEOF consumes the epilog, allowing only comments, processing
// instructions and whitespace.
func expectEOF(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return ErrTrailingContent
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return ErrTrailingContent
			}
		}
	}
}

func validate[T any](v *T) error {
	if val, ok := any(v).(Validator); ok {
		return val.Validate()
	}
	if val, ok := any(*v).(Validator); ok {
		return val.Validate()
	}
	return nil
}

func validationDetail(err error) string {
	var coded interface{ ErrorMessage() string }
	if errors.As(err, &coded) && coded.ErrorMessage() != "" {
		return coded.ErrorMessage()
	}
	return "Payload failed validation."
}

func displayName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

func isNil[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
