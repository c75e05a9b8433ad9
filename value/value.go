package value

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Type identifies the variant of a Value.
type Type uint8

const (
	TypeNil Type = iota
	TypeBool
	TypeNumber
	TypeString
	TypeArray
	TypeMap
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a TypedValue. The set of implementations is closed.
type Value interface {
	Type() Type
	String() string
	isValue()
}

// Nil is the absent value.
type Nil struct{}

// Bool is a boolean value.
type Bool bool

// Number is a 64-bit float.
type Number float64

// String is an arbitrary byte string. It need not be valid UTF-8.
type String string

// Array is an ordered sequence of values.
type Array []Value

// Pair is a single map entry.
type Pair struct {
	Key Value
	Val Value
}

// Map is an ordered sequence of key/value pairs.
type Map []Pair

func (Nil) Type() Type    { return TypeNil }
func (Bool) Type() Type   { return TypeBool }
func (Number) Type() Type { return TypeNumber }
func (String) Type() Type { return TypeString }
func (Array) Type() Type  { return TypeArray }
func (Map) Type() Type    { return TypeMap }

func (Nil) isValue()    {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Map) isValue()    {}

func (Nil) String() string { return "nil" }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (n Number) String() string {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (s String) String() string { return strconv.Quote(string(s)) }

func (a Array) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(stringOf(v))
	}
	b.WriteByte('}')
	return b.String()
}

func (m Map) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		b.WriteString(stringOf(p.Key))
		b.WriteString("]=")
		b.WriteString(stringOf(p.Val))
	}
	b.WriteByte('}')
	return b.String()
}

// Get returns the value stored under key, or nil if absent.
func (m Map) Get(key Value) Value {
	for _, p := range m {
		if Equal(p.Key, key) {
			return p.Val
		}
	}
	return nil
}

func stringOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.String()
}

// TypeOf returns the type of v, treating a nil interface as Nil.
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNil
	}
	return v.Type()
}

// ValidKey reports whether v may be used as a map key.
func ValidKey(v Value) bool {
	switch k := v.(type) {
	case nil, Nil:
		return false
	case Number:
		return !math.IsNaN(float64(k))
	default:
		return true
	}
}

// From converts common Go values into a Value. Go maps become Maps ordered
// by key. Unsupported types yield false.
func From(x any) (Value, bool) {
	switch v := x.(type) {
	case nil:
		return Nil{}, true
	case Value:
		return v, true
	case bool:
		return Bool(v), true
	case int:
		return Number(v), true
	case int32:
		return Number(v), true
	case int64:
		return Number(v), true
	case uint32:
		return Number(v), true
	case float32:
		return Number(v), true
	case float64:
		return Number(v), true
	case string:
		return String(v), true
	case []byte:
		return String(v), true
	case []any:
		arr := make(Array, 0, len(v))
		for _, e := range v {
			ev, ok := From(e)
			if !ok {
				return nil, false
			}
			arr = append(arr, ev)
		}
		return arr, true
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(Map, 0, len(v))
		for _, k := range keys {
			ev, ok := From(v[k])
			if !ok {
				return nil, false
			}
			m = append(m, Pair{Key: String(k), Val: ev})
		}
		return m, true
	default:
		return nil, false
	}
}
