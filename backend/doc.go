package backend

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("backend: document not found")

// Doc is the schemaless document representation shared with the wire. Field
// accessors tolerate missing or mistyped values so a malformed remote
// document degrades to zero values instead of panics.
type Doc map[string]any

// Str returns the string at key, or "".
func (d Doc) Str(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the bool at key, or false.
func (d Doc) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Int returns the integer at key. JSON decoding yields float64, so both
// numeric shapes are accepted.
func (d Doc) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Time returns the timestamp at key. Accepts time.Time, RFC 3339 strings,
// and Unix milliseconds; the zero time otherwise.
func (d Doc) Time(key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	default:
		return time.Time{}
	}
}

// BoolMap returns the string→bool map at key, or nil. Both a native
// map[string]bool and a decoded map[string]any are accepted.
func (d Doc) BoolMap(key string) map[string]bool {
	switch v := d[key].(type) {
	case map[string]bool:
		out := make(map[string]bool, len(v))
		for k, b := range v {
			out[k] = b
		}
		return out
	case map[string]any:
		out := make(map[string]bool, len(v))
		for k, x := range v {
			b, _ := x.(bool)
			out[k] = b
		}
		return out
	default:
		return nil
	}
}

// Strings returns the string slice at key, or nil.
func (d Doc) Strings(key string) []string {
	switch v := d[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Docs returns the slice of sub-documents at key, or nil.
func (d Doc) Docs(key string) []Doc {
	v, ok := d[key].([]any)
	if !ok {
		if ds, ok := d[key].([]Doc); ok {
			out := make([]Doc, len(ds))
			copy(out, ds)
			return out
		}
		return nil
	}
	out := make([]Doc, 0, len(v))
	for _, x := range v {
		if m, ok := x.(map[string]any); ok {
			out = append(out, Doc(m))
		}
	}
	return out
}

// Has reports whether key is present, regardless of its value.
func (d Doc) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Clone returns a shallow copy of the document.
func (d Doc) Clone() Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
