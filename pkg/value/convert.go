package value

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
)

// FromGo converts a decoded document value (YAML, JSON, CUE or Starlark
// conversion output) to a Value.
func FromGo(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return Str(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint(uint64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint(x), nil
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	case json.Number:
		return ParseNumber(x.String())
	case decimal.Decimal:
		return Dec(x), nil
	case *big.Int:
		if x.IsInt64() {
			return Int(x.Int64()), nil
		}
		return Dec(decimal.NewFromBigInt(x, 0)), nil
	case *big.Float:
		return ParseNumber(x.Text('f', -1))
	}
	return Null(), fmt.Errorf("unsupported value type %T", v)
}

func fromUint(u uint64) Value {
	if u <= math.MaxInt64 {
		return Int(int64(u))
	}
	return Dec(decimal.NewFromBigInt(new(big.Int).SetUint64(u), 0))
}

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null(), fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f)), nil
	}
	return Dec(decimal.NewFromFloat(f)), nil
}

// ToGo converts v to a plain Go value suitable for JSON encoding and policy
// input: nil, bool, int64, json.Number or string.
func (v Value) ToGo() interface{} {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDecimal:
		return json.Number(v.String())
	case KindString:
		return v.s
	}
	return nil
}

// FromCty converts a known cty primitive to a Value.
func FromCty(v cty.Value) (Value, error) {
	if v.IsNull() {
		return Null(), nil
	}
	if !v.IsKnown() {
		return Null(), fmt.Errorf("value is unknown")
	}
	switch v.Type() {
	case cty.Bool:
		return Bool(v.True()), nil
	case cty.String:
		return Str(v.AsString()), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return Int(i), nil
			}
		}
		return ParseNumber(bf.Text('f', -1))
	}
	return Null(), fmt.Errorf("unsupported cty type %s", v.Type().FriendlyName())
}

// FromCtyList converts a cty list, set or tuple of primitives.
func FromCtyList(v cty.Value) ([]Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() || !v.CanIterateElements() {
		return nil, fmt.Errorf("expected a list of literals, got %s", v.Type().FriendlyName())
	}
	out := make([]Value, 0, v.LengthInt())
	for _, el := range v.AsValueSlice() {
		val, err := FromCty(el)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// ToCty converts v to the equivalent cty value.
func (v Value) ToCty() cty.Value {
	switch v.kind {
	case KindBoolean:
		return cty.BoolVal(v.b)
	case KindInteger:
		return cty.NumberIntVal(v.i)
	case KindDecimal:
		bf, _, err := big.ParseFloat(v.d.String(), 10, 512, big.ToNearestEven)
		if err != nil {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberVal(bf)
	case KindString:
		return cty.StringVal(v.s)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}
