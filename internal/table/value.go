// Package table defines the in-memory tabular dataset that flows through a
// load run: ordered, named columns of tagged cell values.
//
// Cells are modelled as a closed union (Value) rather than bare interface
// values so that downstream consumers (schema inference, sinks) can switch
// exhaustively over Kind.
package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the variants of Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindString
	KindTimestamp
	KindSeq
	KindMap
)

// String returns a short lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single cell. The zero Value is null.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
	t    time.Time
	seq  []Value
	m    *Map
}

// Null returns the null value.
func Null() Value { return Value{} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: KindUint, u: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// String returns a text value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Timestamp returns a timestamp value.
func Timestamp(v time.Time) Value { return Value{kind: KindTimestamp, t: v} }

// Seq returns a sequence value. A nil slice is an empty sequence, not null.
func Seq(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindSeq, seq: vs}
}

// MapOf returns a mapping value. A nil map is an empty mapping.
func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind             { return v.kind }
func (v Value) IsNull() bool           { return v.kind == KindNull }
func (v Value) AsInt() int64           { return v.i }
func (v Value) AsUint() uint64         { return v.u }
func (v Value) AsFloat() float64       { return v.f }
func (v Value) AsBool() bool           { return v.b }
func (v Value) AsString() string       { return v.s }
func (v Value) AsTimestamp() time.Time { return v.t }

// AsSeq returns the elements of a sequence value, or nil for other kinds.
func (v Value) AsSeq() []Value {
	if v.kind != KindSeq {
		return nil
	}
	return v.seq
}

// AsMap returns the mapping of a map value, or nil for other kinds.
func (v Value) AsMap() *Map {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Text renders the value as text the way the stringify stage does: null
// becomes the empty string, nested values become compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	case KindSeq, KindMap:
		b, err := json.Marshal(v.Native())
		if err != nil {
			return fmt.Sprint(v.Native())
		}
		return string(b)
	default:
		return ""
	}
}

// Native converts the value into plain Go values (nil, int64, uint64,
// float64, bool, string, time.Time, []any, map[string]any) suitable for
// database drivers and encoders.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, k := range v.m.Keys() {
			e, _ := v.m.Get(k)
			out[k] = e.Native()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindUint:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindSeq:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return false
	}
}

// GoString helps test failure output.
func (v Value) GoString() string {
	if v.kind == KindString {
		return strconv.Quote(v.s)
	}
	return v.kind.String() + "(" + v.Text() + ")"
}

// Map is an insertion-ordered string-keyed mapping of values.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty mapping.
func NewMap() *Map { return &Map{vals: map[string]Value{}} }

// Set stores v under k, keeping the original position of existing keys.
func (m *Map) Set(k string, v Value) {
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

// Get returns the value stored under k.
func (m *Map) Get(k string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Equal compares keys (including order) and values.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.Keys() {
		if o.keys[i] != k {
			return false
		}
		if !m.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// FromNative converts decoded JSON-ish Go values into a Value. Unknown types
// fall back to their fmt representation as text.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Uint(uint64(t))
	case uint32:
		return Uint(uint64(t))
	case uint64:
		return Uint(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return Uint(u)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case string:
		return String(t)
	case time.Time:
		return Timestamp(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromNative(e)
		}
		return Seq(out...)
	case map[string]any:
		// Go maps have no order; sort keys for determinism.
		m := NewMap()
		for _, k := range sortedKeys(t) {
			m.Set(k, FromNative(t[k]))
		}
		return MapOf(m)
	case *Map:
		return MapOf(t)
	default:
		return String(strings.TrimSpace(fmt.Sprint(t)))
	}
}
