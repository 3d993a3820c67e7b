// Package fields models the backend's custom field records.
package fields

import (
	"encoding/json"
	"strings"
	"unicode/utf16"

	"github.com/tidwall/gjson"
)

// Type is the field_type column: "data" or "meta".
type Type string

const (
	TypeData Type = "data"
	TypeMeta Type = "meta"
)

// Field is one row returned by /field/{target}/{id}.
type Field struct {
	Key   string `json:"field_key"`
	Type  Type   `json:"field_type"`
	Value any    `json:"field_value"`
}

// Deserialize decodes string values that hold a JSON object or array. The
// backend stores structured values as text; plain strings stay untouched.
func Deserialize(in []Field) []Field {
	out := make([]Field, len(in))
	for i, f := range in {
		out[i] = f
		s, ok := f.Value.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') || !gjson.Valid(trimmed) {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			out[i].Value = decoded
		}
	}
	return out
}

// Find returns the first field with the given key and type.
func Find(fs []Field, key string, typ Type) (Field, bool) {
	for _, f := range fs {
		if f.Key == key && f.Type == typ {
			return f, true
		}
	}
	return Field{}, false
}

// String returns the value as a string when it is one.
func (f Field) String() (string, bool) {
	s, ok := f.Value.(string)
	return s, ok
}

// Decode re-encodes the value and decodes it into v.
func (f Field) Decode(v any) error {
	raw, err := json.Marshal(f.Value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// HashString derives the numeric target id the backend uses for themes. It
// lowercases and trims name, then runs a 31-multiplier rolling hash over its
// UTF-16 code units with 32-bit wraparound, returning the absolute value.
func HashString(name string) int64 {
	name = strings.TrimSpace(strings.ToLower(name))
	var h int32
	for _, c := range utf16.Encode([]rune(name)) {
		h = (h << 5) - h + int32(c)
	}
	r := int64(h)
	if r < 0 {
		r = -r
	}
	return r
}
