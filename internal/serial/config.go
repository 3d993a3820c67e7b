package serial

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Entry is one user-editable setting exposed by a theme or plugin.
type Entry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Data        Value  `json:"data"`
}

// Configuration maps a property name to its schema entry.
type Configuration map[string]Entry

// Clone returns a copy that can be modified without affecting c. Values are
// immutable, so a shallow copy of the map suffices.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return nil
	}
	cp := make(Configuration, len(c))
	for k, e := range c {
		cp[k] = e
	}
	return cp
}

// Keys returns the property names in sorted order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Data returns the value stored under key, or null.
func (c Configuration) Data(key string) Value {
	return c[key].Data
}

// Get returns the plain Go form of the data stored under key. Templates use
// it as {{ .Args.Get "nav" }}.
func (c Configuration) Get(key string) any {
	e, ok := c[key]
	if !ok {
		return nil
	}
	return e.Data.Interface()
}

// With returns a copy of c whose entry key carries data. The entry must
// already exist.
func (c Configuration) With(key string, data Value) (Configuration, error) {
	e, ok := c[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key %q", key)
	}
	cp := c.Clone()
	e.Data = data
	cp[key] = e
	return cp, nil
}

// Equal reports whether two configurations hold the same entries.
func (c Configuration) Equal(o Configuration) bool {
	if len(c) != len(o) {
		return false
	}
	for k, e := range c {
		oe, ok := o[k]
		if !ok || e.Title != oe.Title || e.Description != oe.Description || !Equal(e.Data, oe.Data) {
			return false
		}
	}
	return true
}

// SameAs compares the canonical encodings of c and o. Unlike Equal it
// treats a nil and an empty configuration alike.
func (c Configuration) SameAs(o Configuration) bool {
	if len(c) == 0 && len(o) == 0 {
		return true
	}
	a, err := CanonicalJSON(c)
	if err != nil {
		return false
	}
	b, err := CanonicalJSON(o)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// ParseConfiguration decodes a JSON object of schema entries.
func ParseConfiguration(data []byte) (Configuration, error) {
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return c, nil
}
