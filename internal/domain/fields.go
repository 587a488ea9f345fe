package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Fields is the schema-flexible part of a record. Keys keep the order in
// which they were first set (or first seen when decoded from JSON), so audit
// output and wire payloads are reproducible.
//
// Reads on a missing key never fail: Get reports absence and the typed
// accessors return their zero value.
type Fields struct {
	keys   []string
	values map[string]any
}

func NewFields() *Fields {
	return &Fields{values: make(map[string]any)}
}

// FieldsFrom builds Fields from alternating key/value pairs.
func FieldsFrom(pairs ...any) *Fields {
	f := NewFields()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		f.Set(key, pairs[i+1])
	}
	return f
}

// ParseFields decodes a JSON object, preserving key order.
func ParseFields(data []byte) (*Fields, error) {
	f := NewFields()
	if err := f.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, len(f.keys))
	copy(keys, f.keys)
	return keys
}

func (f *Fields) Has(key string) bool {
	if f == nil {
		return false
	}
	_, ok := f.values[key]
	return ok
}

func (f *Fields) Get(key string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.values[key]
	return v, ok
}

// String returns the value as text. Non-string values are rendered as JSON;
// absent keys and null give "".
func (f *Fields) String(key string) string {
	v, ok := f.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Strings reads a list of strings. A single non-empty string is returned as
// a one-element list.
func (f *Fields) Strings(key string) []string {
	v, ok := f.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	}
	return nil
}

// StringMap reads an object whose values are strings.
func (f *Fields) StringMap(key string) map[string]string {
	v, ok := f.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}

// Set stores a value. Overwriting a key keeps its original position.
func (f *Fields) Set(key string, value any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

func (f *Fields) Delete(key string) {
	if f == nil {
		return
	}
	if _, exists := f.values[key]; !exists {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy.
func (f *Fields) Clone() *Fields {
	out := NewFields()
	if f == nil {
		return out
	}
	for _, k := range f.keys {
		out.Set(k, cloneValue(f.values[k]))
	}
	return out
}

// Equal reports whether two values encode to the same JSON, so an int 1 and
// a decoded json.Number "1" compare equal.
func Equal(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if f != nil {
		for i, k := range f.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(f.values[k])
			if err != nil {
				return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid fields document")
	}
	result := gjson.ParseBytes(data)
	if result.Type == gjson.Null {
		f.keys, f.values = nil, make(map[string]any)
		return nil
	}
	if !result.IsObject() {
		return fmt.Errorf("fields document is not an object")
	}

	f.keys = nil
	f.values = make(map[string]any)
	var decodeErr error
	result.ForEach(func(key, value gjson.Result) bool {
		v, err := DecodeValue(value)
		if err != nil {
			decodeErr = fmt.Errorf("failed to decode field %q: %w", key.String(), err)
			return false
		}
		f.Set(key.String(), v)
		return true
	})
	return decodeErr
}

// DecodeValue converts a parsed JSON value to Go. Numbers stay json.Number,
// including inside arrays and objects, so integers wider than a float64
// mantissa keep every digit.
func DecodeValue(value gjson.Result) (any, error) {
	switch {
	case value.Type == gjson.Number:
		return json.Number(value.Raw), nil
	case value.IsArray(), value.IsObject():
		dec := json.NewDecoder(strings.NewReader(value.Raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return value.Value(), nil
}

// SortedKeys returns the keys of a string-keyed map in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case *Fields:
		return val.Clone()
	}
	return v
}
