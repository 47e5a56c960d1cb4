// Package value implements the tagged runtime values used by the expression
// evaluator and instance bindings: Null, Boolean, Integer, Decimal and String.
package value

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindDecimal
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsNumeric returns true for Integer and Decimal.
func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindDecimal
}

// ParseKind parses an attribute kind declaration: "boolean", "integer",
// "string", "decimal" or "decimal(N)". The returned precision is -1 when
// unspecified.
func ParseKind(s string) (Kind, int32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "boolean", "bool":
		return KindBoolean, -1, nil
	case "integer", "int":
		return KindInteger, -1, nil
	case "string":
		return KindString, -1, nil
	case "decimal":
		return KindDecimal, -1, nil
	}
	if strings.HasPrefix(s, "decimal(") && strings.HasSuffix(s, ")") {
		p, err := strconv.Atoi(strings.TrimSpace(s[len("decimal(") : len(s)-1]))
		if err != nil || p < 0 {
			return 0, 0, fmt.Errorf("invalid decimal precision in %q", s)
		}
		return KindDecimal, int32(p), nil
	}
	return 0, 0, fmt.Errorf("unknown attribute kind %q", s)
}

// Value is an immutable tagged runtime value. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	d    decimal.Decimal
	s    string
	prec int32
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a Boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Int returns an Integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Str returns a String value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Dec returns a Decimal value with unspecified precision.
func Dec(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d, prec: -1} }

// DecWithPrecision returns a Decimal rounded to precision fractional digits.
// A negative precision leaves the value unrounded.
func DecWithPrecision(d decimal.Decimal, precision int32) Value {
	if precision >= 0 {
		d = d.Round(precision)
	}
	return Value{kind: KindDecimal, d: d, prec: precision}
}

// ParseDecimal parses a decimal literal.
func ParseDecimal(s string) (Value, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Null(), fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Dec(d), nil
}

// ParseNumber parses a numeric literal as Integer when it has no fractional
// part or exponent, Decimal otherwise.
func ParseNumber(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	return ParseDecimal(s)
}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull returns true if v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Precision returns the declared precision of a Decimal, or -1.
func (v Value) Precision() int32 {
	if v.kind != KindDecimal {
		return -1
	}
	return v.prec
}

// AsBool returns the boolean payload and whether v is a Boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBoolean }

// AsInt returns the integer payload and whether v is an Integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInteger }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsDecimal returns v as a decimal for Integer and Decimal values.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindInteger:
		return decimal.NewFromInt(v.i), true
	case KindDecimal:
		return v.d, true
	}
	return decimal.Zero, false
}

// Truthy reports the boolean interpretation of v: Null is false, numbers are
// true when non-zero, strings when non-empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i != 0
	case KindDecimal:
		return !v.d.IsZero()
	case KindString:
		return v.s != ""
	}
	return false
}

// Equal reports semantic equality. Integer and Decimal compare numerically;
// Null equals only Null; other kinds never equal each other.
func (v Value) Equal(o Value) bool {
	if v.kind.IsNumeric() && o.kind.IsNumeric() {
		a, _ := v.AsDecimal()
		b, _ := o.AsDecimal()
		return a.Equal(b)
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	}
	return false
}

// Identical reports whether v and o have the same tag and payload. Unlike
// Equal, Int(1) and a Decimal 1 are not identical.
func (v Value) Identical(o Value) bool {
	return v.kind == o.kind && v.Equal(o)
}

// String renders v for messages and text output.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindDecimal:
		if v.prec >= 0 {
			return v.d.StringFixed(v.prec)
		}
		return v.d.String()
	case KindString:
		return v.s
	}
	return "null"
}

// GoString renders v with quoting, for debugging.
func (v Value) GoString() string {
	if v.kind == KindString {
		return strconv.Quote(v.s)
	}
	return v.String()
}

// ConvertTo converts v to the given attribute kind. Integer converts to
// Decimal; a Decimal converts to Integer only when it has no fractional part.
// Null converts to any kind.
func (v Value) ConvertTo(kind Kind, precision int32) (Value, error) {
	if v.kind == KindNull {
		return v, nil
	}
	switch kind {
	case KindDecimal:
		if d, ok := v.AsDecimal(); ok {
			return DecWithPrecision(d, precision), nil
		}
	case KindInteger:
		switch v.kind {
		case KindInteger:
			return v, nil
		case KindDecimal:
			if v.d.Equal(v.d.Truncate(0)) {
				return Int(v.d.IntPart()), nil
			}
		}
	case v.kind:
		return v, nil
	}
	return Null(), fmt.Errorf("cannot use %s value %s as %s", v.kind, v.GoString(), kind)
}

// MarshalJSON encodes v as the matching JSON literal. Decimals are written as
// unquoted numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBoolean:
		return json.Marshal(v.b)
	case KindInteger:
		return json.Marshal(v.i)
	case KindDecimal:
		return []byte(v.String()), nil
	case KindString:
		return json.Marshal(v.s)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON literal into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromGo(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
