package types

import (
	"strconv"
)

// Kind tags the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	default:
		return "null"
	}
}

// Value is a closed tagged variant produced by normalization.
// The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// NullValue returns the null variant
func NullValue() Value { return Value{} }

// StringValue wraps a string
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// IntegerValue wraps a 64-bit integer
func IntegerValue(i int64) Value { return Value{kind: KindInteger, i: i} }

// FloatValue wraps a 64-bit float
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BooleanValue wraps a boolean
func BooleanValue(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsInteger() (int64, bool) { return v.i, v.kind == KindInteger }

func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) AsBoolean() (bool, bool) { return v.b, v.kind == KindBoolean }

// Text renders the value for delimited text output. Null renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Interface returns the underlying Go value, or nil for null
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBoolean:
		return v.b
	default:
		return nil
	}
}
