package wire

import (
	"encoding"
	"encoding/xml"
	"reflect"
)

var (
	xmlMarshalerType  = reflect.TypeFor[xml.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// visit identifies a reference on the current path. The type is part of the
// key because a struct and its first field share an address.
type visit struct {
	addr uintptr
	typ  reflect.Type
}

// hasCycle reports whether encoding v would follow a reference back into
// itself. Only the path from the root is tracked, so values shared by
// several branches are fine. It follows what encoding/xml marshals:
// exported or embedded fields not tagged "-", and stops at values that
// marshal themselves.
func hasCycle(v any) bool {
	return walk(reflect.ValueOf(v), make(map[visit]struct{}))
}

func walk(rv reflect.Value, path map[visit]struct{}) bool {
	if !rv.IsValid() || marshalsItself(rv) {
		return false
	}
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return false
		}
		return enter(rv, path, func() bool { return walk(rv.Elem(), path) })
	case reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return walk(rv.Elem(), path)
	case reflect.Slice:
		if rv.Len() == 0 {
			return false
		}
		return enter(rv, path, func() bool { return walkElems(rv, path) })
	case reflect.Array:
		return walkElems(rv, path)
	case reflect.Struct:
		t := rv.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() && !f.Anonymous {
				continue
			}
			if f.Tag.Get("xml") == "-" {
				continue
			}
			if walk(rv.Field(i), path) {
				return true
			}
		}
	}
	return false
}

func walkElems(rv reflect.Value, path map[visit]struct{}) bool {
	for i := range rv.Len() {
		if walk(rv.Index(i), path) {
			return true
		}
	}
	return false
}

func enter(rv reflect.Value, path map[visit]struct{}, next func() bool) bool {
	key := visit{addr: rv.Pointer(), typ: rv.Type()}
	if _, seen := path[key]; seen {
		return true
	}
	path[key] = struct{}{}
	defer delete(path, key)
	return next()
}

func marshalsItself(rv reflect.Value) bool {
	t := rv.Type()
	if t.Implements(xmlMarshalerType) || t.Implements(textMarshalerType) {
		return true
	}
	if rv.CanAddr() {
		pt := reflect.PointerTo(t)
		return pt.Implements(xmlMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}
