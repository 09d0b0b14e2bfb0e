package server

import (
	"html"
	"reflect"
)

// DefaultSanitizer is the reference Sanitizer: it HTML-escapes strings
// held in settable struct fields, slice/array elements and map values,
// and drops any map key beginning with "$", walking the record by
// reflection since the JSON path has no generated accessors to lean on.
// A map value is handled by its own kind: a string is escaped and a
// struct, slice, array or map is walked, while a pointer, or an interface
// holding anything other than a string, is left as it is. So in a
// map[string]any decoded from nested JSON the inner maps, their strings
// and their "$" keys are not touched. A string held in an interface
// outside a map (an element of a []any, for example) is not escaped.
// Grounded on the teacher's html.EscapeString use on untrusted request
// paths (dfc/proxy.go); extended here to a full record walk since a
// decoded JSON body is a tree, not a single string.
func DefaultSanitizer(record any) any {
	v := reflect.ValueOf(record)
	sanitizeValue(v)
	return record
}

func sanitizeValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			sanitizeValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			}
			sanitizeField(f)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			sanitizeField(v.Index(i))
		}
	case reflect.Map:
		sanitizeMap(v)
	}
}

func sanitizeField(f reflect.Value) {
	switch f.Kind() {
	case reflect.String:
		if f.CanSet() {
			f.SetString(html.EscapeString(f.String()))
		}
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Ptr, reflect.Interface, reflect.Map:
		sanitizeValue(f)
	}
}

// sanitizeMap rebuilds m in place, dropping any key starting with "$"
// and HTML-escaping or recursing into surviving values. Map values in
// Go's reflect API are not addressable, so each entry is replaced
// wholesale rather than mutated.
func sanitizeMap(m reflect.Value) {
	if m.IsNil() {
		return
	}
	for _, key := range m.MapKeys() {
		if key.Kind() == reflect.String && len(key.String()) > 0 && key.String()[0] == '$' {
			m.SetMapIndex(key, reflect.Value{})
			continue
		}
		val := m.MapIndex(key)
		switch val.Kind() {
		case reflect.String:
			m.SetMapIndex(key, reflect.ValueOf(html.EscapeString(val.String())))
		case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map:
			boxed := reflect.New(val.Type()).Elem()
			boxed.Set(val)
			sanitizeValue(boxed)
			m.SetMapIndex(key, boxed)
		case reflect.Interface:
			inner := val.Elem()
			if inner.Kind() == reflect.String {
				m.SetMapIndex(key, reflect.ValueOf(html.EscapeString(inner.String())))
			}
		}
	}
}
