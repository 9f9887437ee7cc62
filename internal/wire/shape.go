package wire

import (
	"encoding/xml"
	"reflect"
	"strings"
)

// Shape describes the wire layout of payload type T. Field names and order
// come from T's own xml struct tags; Shape fixes the root element.
type Shape[T any] struct {
	Name xml.Name
}

// ShapeOf derives the shape of T from its XMLName field tag, falling back to
// the Go type name when T declares none.
func ShapeOf[T any]() Shape[T] {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		if f, ok := t.FieldByName("XMLName"); ok && f.Type == reflect.TypeFor[xml.Name]() {
			if name, ok := parseNameTag(f.Tag.Get("xml")); ok {
				return Shape[T]{Name: name}
			}
		}
	}
	return Shape[T]{Name: xml.Name{Local: t.Name()}}
}

// NamedShape returns a shape whose root element is local, without namespace.
func NamedShape[T any](local string) Shape[T] {
	return Shape[T]{Name: xml.Name{Local: local}}
}

// TypeName reports the Go type the shape describes.
func (s Shape[T]) TypeName() string {
	return reflect.TypeFor[T]().String()
}

func (s Shape[T]) String() string {
	return displayName(s.Name)
}

// accepts reports whether a decoded root element matches the shape. The
// namespace only has to match when the shape declares one.
func (s Shape[T]) accepts(name xml.Name) bool {
	if name.Local != s.Name.Local {
		return false
	}
	return s.Name.Space == "" || s.Name.Space == name.Space
}

// parseNameTag reads an `xml:"[namespace ]local[,opts]"` tag.
func parseNameTag(tag string) (xml.Name, bool) {
	tag, _, _ = strings.Cut(tag, ",")
	if tag == "" || tag == "-" {
		return xml.Name{}, false
	}
	if i := strings.LastIndexByte(tag, ' '); i >= 0 {
		return xml.Name{Space: tag[:i], Local: tag[i+1:]}, true
	}
	return xml.Name{Local: tag}, true
}
