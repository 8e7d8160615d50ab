// Package attrs models lobby and session attributes: a tagged union of
// bool, string, int64 and double values keyed by name.
package attrs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindString
	KindInt64
	KindDouble
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	default:
		return "invalid"
	}
}

func parseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bool", "boolean":
		return KindBool, nil
	case "string":
		return KindString, nil
	case "int64", "int":
		return KindInt64, nil
	case "double", "float", "float64":
		return KindDouble, nil
	default:
		return 0, fmt.Errorf("unsupported attribute type %q", raw)
	}
}

// Value is one attribute value. The zero Value is invalid.
type Value struct {
	kind Kind
	b    bool
	s    string
	i    int64
	d    float64
}

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func String(v string) Value { return Value{kind: KindString, s: v} }

func Int64(v int64) Value { return Value{kind: KindInt64, i: v} }

func Double(v float64) Value { return Value{kind: KindDouble, d: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != 0 }

func (v Value) AsBool() bool { return v.b }

func (v Value) AsString() string { return v.s }

func (v Value) AsInt64() int64 { return v.i }

func (v Value) AsDouble() float64 { return v.d }

// Equal reports whether v and o carry the same tag and payload.
// Doubles compare bitwise so NaN equals NaN and an update is never re-sent.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindInt64:
		return v.i == o.i
	case KindDouble:
		return math.Float64bits(v.d) == math.Float64bits(o.d)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	case KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	default:
		return "<invalid>"
	}
}

type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"type": "...", "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindBool:
		payload = v.b
	case KindString:
		payload = v.s
	case KindInt64:
		payload = v.i
	case KindDouble:
		payload = v.d
	default:
		return nil, errors.New("attrs: marshal invalid value")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the {"type": "...", "value": ...} form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := parseKind(w.Type)
	if err != nil {
		return err
	}
	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("attrs: bool value: %w", err)
		}
		*v = Bool(b)
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("attrs: string value: %w", err)
		}
		*v = String(s)
	case KindInt64:
		var i int64
		if err := json.Unmarshal(w.Value, &i); err != nil {
			return fmt.Errorf("attrs: int64 value: %w", err)
		}
		*v = Int64(i)
	case KindDouble:
		var d float64
		if err := json.Unmarshal(w.Value, &d); err != nil {
			return fmt.Errorf("attrs: double value: %w", err)
		}
		*v = Double(d)
	}
	return nil
}

// Attribute is a keyed value as sent to a backend update call.
type Attribute struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Set is a cached attribute map.
type Set map[string]Value

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Apply writes list into s, allocating s when nil, and returns it.
func (s Set) Apply(list []Attribute) Set {
	if s == nil {
		s = Set{}
	}
	for _, a := range list {
		s[normalizeKey(a.Key)] = a.Value
	}
	return s
}

// Keys returns the keys of s in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
