package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind enumerates the JSON shapes a Value can hold.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged representation of a dynamic JSON payload. Provider
// responses are mapped into Values at the boundary so business logic never
// handles untyped blobs. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List wraps an ordered list of Values.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Map wraps a key/value map.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// FromAny converts a value produced by encoding/json decoding (string,
// float64, bool, nil, []any, map[string]any) into a tagged Value. Unknown
// Go types fall back to their fmt representation as a string.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromAny(it)
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, it := range t {
			m[k] = FromAny(it)
		}
		return Value{kind: KindMap, m: m}
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// FromJSON parses raw JSON into a Value.
func FromJSON(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Null(), err
	}
	return FromAny(raw), nil
}

// Kind returns the tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload (empty unless KindString).
func (v Value) Str() string { return v.str }

// Num returns the numeric payload (zero unless KindNumber).
func (v Value) Num() float64 { return v.num }

// BoolVal returns the boolean payload (false unless KindBool).
func (v Value) BoolVal() bool { return v.b }

// Items returns the list payload (nil unless KindList).
func (v Value) Items() []Value { return v.list }

// Get returns the map entry for key and whether it exists.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	val, ok := v.m[key]
	return val, ok
}

// Keys returns the sorted map keys (nil unless KindMap).
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToAny converts back to the encoding/json decoded representation.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		items := make([]any, len(v.list))
		for i, it := range v.list {
			items[i] = it.ToAny()
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, it := range v.m {
			m[k] = it.ToAny()
		}
		return m
	default:
		return nil
	}
}

// String renders the value as compact JSON-ish text for logs and tool-result
// message content.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) { return json.Marshal(v.ToAny()) }

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
