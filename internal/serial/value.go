// Package serial implements the configuration value model shared by themes
// and plugins: a JSON-shaped recursive value plus the schema entries built on
// top of it.
package serial

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// Value is an immutable configuration value. The zero Value is null.
//
// Constructors copy their inputs, so a Value tree never shares maps or slices
// with the caller and can never contain itself.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
	obj  map[string]Value
	arr  []Value
}

func Null() Value { return Value{} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the number and whether v is a number.
func (v Value) Float() (float64, bool) { return v.num, v.kind == KindNumber }

// Str returns the string and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Boolean returns the bool and whether v is a boolean.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Len is the number of members of an object or items of an array.
func (v Value) Len() int {
	switch v.kind {
	case KindObject:
		return len(v.obj)
	case KindArray:
		return len(v.arr)
	}
	return 0
}

// Get returns an object member.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Index returns an array item.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Keys returns object keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the array items.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.arr))
	copy(cp, v.arr)
	return cp
}

// Interface converts v to plain Go values (nil, float64, string, bool,
// map[string]any, []any), the shape encoding/json and html/template expect.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.Interface()
		}
		return m
	case KindArray:
		a := make([]any, len(v.arr))
		for i, e := range v.arr {
			a[i] = e.Interface()
		}
		return a
	}
	return nil
}

// String renders the value for display; strings are returned unquoted.
func (v Value) String() string {
	if v.kind == KindString {
		return v.str
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// FromInterface converts a plain Go value into a Value. Every JSON-compatible
// Go shape is accepted; anything else is an error.
func FromInterface(x any) (Value, error) {
	return fromInterface(x, 0)
}

// maxDepth bounds conversion of caller-built structures.
const maxDepth = 512

func fromInterface(x any, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("value nested deeper than %d levels", maxDepth)
	}
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromInterface(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Value{kind: KindObject, obj: m}, nil
	case []any:
		a := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromInterface(e, depth+1)
			if err != nil {
				return Value{}, err
			}
			a[i] = ev
		}
		return Value{kind: KindArray, arr: a}, nil
	}
	return Value{}, fmt.Errorf("unsupported configuration value type %T", x)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("number %v is not representable in JSON", v.num)
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		return json.Marshal(v.obj)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are parsed as IEEE-754
// doubles.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, fmt.Errorf("failed to parse configuration value: %w", err)
	}
	return v, nil
}

// Canonical returns the RFC 8785 canonical JSON encoding of v. Two values are
// structurally equal exactly when their canonical encodings are equal.
func Canonical(v Value) ([]byte, error) {
	return CanonicalJSON(v)
}

// CanonicalJSON marshals v and canonicalizes the result per RFC 8785.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal for canonicalization: %w", err)
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize: %w", err)
	}
	return out, nil
}

// Equal reports structural equality. Object key order is irrelevant.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindBool:
		return a.b == b.b
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}
