package value

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"

	"github.com/openfroyo/configurator/pkg/engine"
)

func mustDec(t *testing.T, s string) Value {
	t.Helper()
	v, err := ParseDecimal(s)
	if err != nil {
		t.Fatalf("ParseDecimal(%q): %v", s, err)
	}
	return v
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		kind    Kind
		prec    int32
		wantErr bool
	}{
		{in: "boolean", kind: KindBoolean, prec: -1},
		{in: "integer", kind: KindInteger, prec: -1},
		{in: "string", kind: KindString, prec: -1},
		{in: "decimal", kind: KindDecimal, prec: -1},
		{in: "decimal(2)", kind: KindDecimal, prec: 2},
		{in: "Decimal( 4 )", kind: KindDecimal, prec: 4},
		{in: "decimal(x)", wantErr: true},
		{in: "float", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, prec, err := ParseKind(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if kind != tt.kind || prec != tt.prec {
				t.Errorf("Expected %s/%d, got %s/%d", tt.kind, tt.prec, kind, prec)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null(), false},
		{"true", Bool(true), true},
		{"false", Bool(false), false},
		{"zero", Int(0), false},
		{"nonzero", Int(3), true},
		{"decimal zero", Dec(decimal.Zero), false},
		{"decimal", Dec(decimal.NewFromFloat(0.5)), true},
		{"empty string", Str(""), false},
		{"string", Str("x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Truthy(); got != tt.want {
				t.Errorf("Truthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinary_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b Value
		want string
		kind Kind
	}{
		{"int add", OpAdd, Int(2), Int(3), "5", KindInteger},
		{"int sub", OpSubtract, Int(2026), Int(2015), "11", KindInteger},
		{"int mul", OpMultiply, Int(4), Int(5), "20", KindInteger},
		{"exact int div", OpDivide, Int(10), Int(5), "2", KindInteger},
		{"inexact int div", OpDivide, Int(1), Int(4), "0.25", KindDecimal},
		{"modulo", OpModulo, Int(7), Int(3), "1", KindInteger},
		{"promotion", OpAdd, Int(1), mustDec(t, "0.5"), "1.5", KindDecimal},
		{"concat", OpAdd, Str("Auto"), Str("Silver"), "AutoSilver", KindString},
		{"null propagates", OpAdd, Null(), Int(1), "null", KindNull},
		{"division by zero", OpDivide, Int(1), Int(0), "null", KindNull},
		{"precision kept", OpMultiply, DecWithPrecision(decimal.NewFromFloat(1.25), 2), Int(3), "3.75", KindDecimal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Binary(tt.op, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Kind() != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, got.Kind())
			}
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.String())
			}
		})
	}
}

func TestBinary_IntegerOverflowPromotes(t *testing.T) {
	got, err := Binary(OpAdd, Int(9223372036854775807), Int(1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Kind() != KindDecimal || got.String() != "9223372036854775808" {
		t.Errorf("Expected decimal promotion, got %s %s", got.Kind(), got)
	}
}

func TestBinary_Comparisons(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b Value
		want bool
	}{
		{"lt", OpLessThan, Int(1979), Int(1980), true},
		{"ge mixed", OpGreaterThanOrEqual, mustDec(t, "60000.00"), Int(60000), true},
		{"eq mixed", OpEqual, Int(2000), mustDec(t, "2000.0"), true},
		{"string eq", OpEqual, Str("Standard User"), Str("Standard User"), true},
		{"string lt", OpLessThan, Str("a"), Str("b"), true},
		{"null ordering is false", OpGreaterThan, Null(), Int(0), false},
		{"null ordering reversed", OpLessThanOrEqual, Int(0), Null(), false},
		{"explicit null check", OpEqual, Null(), Null(), true},
		{"value not null", OpNotEqual, Int(1), Null(), true},
		{"null vs value eq", OpEqual, Null(), Str("x"), false},
		{"bool eq", OpEqual, Bool(true), Bool(true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Binary(tt.op, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if b, ok := got.AsBool(); !ok || b != tt.want {
				t.Errorf("Expected %v, got %s", tt.want, got)
			}
		})
	}
}

func TestBinary_TypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b Value
	}{
		{"string minus int", OpSubtract, Str("a"), Int(1)},
		{"string plus int", OpAdd, Str("a"), Int(1)},
		{"bool ordering", OpLessThan, Bool(true), Bool(false)},
		{"string vs int equality", OpEqual, Str("1"), Int(1)},
		{"bool arithmetic with null", OpAdd, Bool(true), Null()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Binary(tt.op, tt.a, tt.b)
			if !engine.IsTypeMismatch(err) {
				t.Errorf("Expected TypeMismatch, got %v", err)
			}
		})
	}
}

func TestBinary_Logical(t *testing.T) {
	got, _ := Binary(OpAnd, Int(1), Str(""))
	if b, _ := got.AsBool(); b {
		t.Error("Expected 1 && \"\" to be false")
	}
	got, _ = Binary(OpOr, Null(), Str("x"))
	if b, _ := got.AsBool(); !b {
		t.Error("Expected null || \"x\" to be true")
	}
	if b, _ := Not(Null()).AsBool(); !b {
		t.Error("Expected !null to be true")
	}
}

func TestNegate(t *testing.T) {
	v, err := Negate(Int(5))
	if err != nil || v.String() != "-5" {
		t.Errorf("Negate(5) = %s, %v", v, err)
	}
	if _, err := Negate(Str("x")); !engine.IsTypeMismatch(err) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
	if v, _ := Negate(Null()); !v.IsNull() {
		t.Errorf("Expected null, got %s", v)
	}
}

func TestMaxMin(t *testing.T) {
	v, err := Max(Int(2015), Int(2024))
	if err != nil || v.String() != "2024" {
		t.Errorf("Max = %s, %v", v, err)
	}
	v, err = Min(Null(), Int(3))
	if err != nil || v.String() != "3" {
		t.Errorf("Min with null = %s, %v", v, err)
	}
	if _, err := Max(Str("a"), Int(1)); !engine.IsTypeMismatch(err) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}
}

func TestConvertTo(t *testing.T) {
	v, err := Int(2000).ConvertTo(KindDecimal, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if v.String() != "2000.00" {
		t.Errorf("Expected 2000.00, got %s", v)
	}

	v, err = mustDec(t, "12.0").ConvertTo(KindInteger, -1)
	if err != nil || v.Kind() != KindInteger {
		t.Errorf("Expected integral decimal to convert, got %s %v", v.Kind(), err)
	}

	if _, err := mustDec(t, "12.5").ConvertTo(KindInteger, -1); err == nil {
		t.Error("Expected error converting 12.5 to integer")
	}
	if _, err := Str("x").ConvertTo(KindBoolean, -1); err == nil {
		t.Error("Expected error converting string to boolean")
	}
	if v, err := Null().ConvertTo(KindString, -1); err != nil || !v.IsNull() {
		t.Errorf("Expected null to convert, got %s %v", v, err)
	}
}

func TestFromGo(t *testing.T) {
	tests := []struct {
		in   interface{}
		kind Kind
		want string
	}{
		{nil, KindNull, "null"},
		{true, KindBoolean, "true"},
		{42, KindInteger, "42"},
		{int64(7), KindInteger, "7"},
		{float64(2015), KindInteger, "2015"},
		{1.5, KindDecimal, "1.5"},
		{json.Number("250"), KindInteger, "250"},
		{json.Number("2.50"), KindDecimal, "2.5"},
		{"Standard User", KindString, "Standard User"},
		{uint64(18446744073709551615), KindDecimal, "18446744073709551615"},
	}

	for _, tt := range tests {
		got, err := FromGo(tt.in)
		if err != nil {
			t.Fatalf("FromGo(%v): %v", tt.in, err)
		}
		if got.Kind() != tt.kind || got.String() != tt.want {
			t.Errorf("FromGo(%#v) = %s %s, want %s %s", tt.in, got.Kind(), got, tt.kind, tt.want)
		}
	}

	if _, err := FromGo([]int{1}); err == nil {
		t.Error("Expected error for slice input")
	}
}

func TestCtyRoundTrip(t *testing.T) {
	tests := []cty.Value{
		cty.BoolVal(true),
		cty.NumberIntVal(1980),
		cty.StringVal("hide"),
	}
	for _, in := range tests {
		v, err := FromCty(in)
		if err != nil {
			t.Fatalf("FromCty(%#v): %v", in, err)
		}
		if out := v.ToCty(); !out.RawEquals(in) {
			t.Errorf("Round trip mismatch: %#v -> %#v", in, out)
		}
	}

	v, err := FromCty(cty.NumberFloatVal(0.25))
	if err != nil || v.Kind() != KindDecimal || v.String() != "0.25" {
		t.Errorf("Expected decimal 0.25, got %s %s %v", v.Kind(), v, err)
	}

	list, err := FromCtyList(cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("a")}))
	if err != nil || len(list) != 2 {
		t.Fatalf("FromCtyList: %v %v", list, err)
	}
}

func TestJSON(t *testing.T) {
	in := []Value{Null(), Bool(true), Int(3), mustDec(t, "1.50"), Str("x")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `[null,true,3,1.5,"x"]` {
		t.Errorf("Unexpected JSON: %s", data)
	}

	var out []Value
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for i := range in {
		if !in[i].Equal(out[i]) {
			t.Errorf("Element %d: %s != %s", i, in[i], out[i])
		}
	}
}
