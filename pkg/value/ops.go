package value

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/configurator/pkg/engine"
)

// Op is a binary operator.
type Op string

const (
	OpAdd      Op = "+"
	OpSubtract Op = "-"
	OpMultiply Op = "*"
	OpDivide   Op = "/"
	OpModulo   Op = "%"

	OpEqual              Op = "=="
	OpNotEqual           Op = "!="
	OpLessThan           Op = "<"
	OpLessThanOrEqual    Op = "<="
	OpGreaterThan        Op = ">"
	OpGreaterThanOrEqual Op = ">="

	OpAnd Op = "&&"
	OpOr  Op = "||"
)

// divisionScale is the number of fractional digits kept by inexact division.
const divisionScale = 16

func mismatch(op Op, a, b Value) error {
	return engine.NewTypeMismatch(
		fmt.Sprintf("operator %s not defined for %s and %s", op, a.kind, b.kind),
	).WithDetail("left", a.GoString()).WithDetail("right", b.GoString())
}

// Binary applies op to a and b.
//
// Arithmetic on Null yields Null. Ordering comparisons involving Null are
// false; == and != treat Null as a value equal only to Null. Logical
// operators use truthiness and never fail. Unsupported tag pairs yield a
// TypeMismatch error.
func Binary(op Op, a, b Value) (Value, error) {
	switch op {
	case OpAnd:
		return Bool(a.Truthy() && b.Truthy()), nil
	case OpOr:
		return Bool(a.Truthy() || b.Truthy()), nil
	case OpEqual, OpNotEqual:
		eq, err := equals(op, a, b)
		if err != nil {
			return Null(), err
		}
		if op == OpNotEqual {
			eq = !eq
		}
		return Bool(eq), nil
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return compare(op, a, b)
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		return arithmetic(op, a, b)
	}
	return Null(), engine.NewInternalError(fmt.Sprintf("unknown operator %q", op), nil)
}

func equals(op Op, a, b Value) (bool, error) {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull(), nil
	}
	if a.kind.IsNumeric() && b.kind.IsNumeric() {
		return a.Equal(b), nil
	}
	if a.kind != b.kind {
		return false, mismatch(op, a, b)
	}
	return a.Equal(b), nil
}

func compare(op Op, a, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		return Bool(false), nil
	}

	var c int
	switch {
	case a.kind.IsNumeric() && b.kind.IsNumeric():
		if a.kind == KindInteger && b.kind == KindInteger {
			switch {
			case a.i < b.i:
				c = -1
			case a.i > b.i:
				c = 1
			}
		} else {
			x, _ := a.AsDecimal()
			y, _ := b.AsDecimal()
			c = x.Cmp(y)
		}
	case a.kind == KindString && b.kind == KindString:
		c = strings.Compare(a.s, b.s)
	default:
		return Null(), mismatch(op, a, b)
	}

	switch op {
	case OpLessThan:
		return Bool(c < 0), nil
	case OpLessThanOrEqual:
		return Bool(c <= 0), nil
	case OpGreaterThan:
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

func arithmetic(op Op, a, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		if (a.IsNull() || a.kind.IsNumeric() || a.kind == KindString) &&
			(b.IsNull() || b.kind.IsNumeric() || b.kind == KindString) {
			return Null(), nil
		}
		return Null(), mismatch(op, a, b)
	}

	if op == OpAdd && a.kind == KindString && b.kind == KindString {
		return Str(a.s + b.s), nil
	}
	if !a.kind.IsNumeric() || !b.kind.IsNumeric() {
		return Null(), mismatch(op, a, b)
	}

	if a.kind == KindInteger && b.kind == KindInteger {
		if v, ok := intArithmetic(op, a.i, b.i); ok {
			return v, nil
		}
	}

	x, _ := a.AsDecimal()
	y, _ := b.AsDecimal()
	prec := resultPrecision(a, b)

	var d decimal.Decimal
	switch op {
	case OpAdd:
		d = x.Add(y)
	case OpSubtract:
		d = x.Sub(y)
	case OpMultiply:
		d = x.Mul(y)
	case OpDivide:
		if y.IsZero() {
			return Null(), nil
		}
		d = x.DivRound(y, divisionScale)
	case OpModulo:
		if y.IsZero() {
			return Null(), nil
		}
		d = x.Mod(y)
	}
	if prec >= 0 {
		return DecWithPrecision(d, prec), nil
	}
	return Dec(d), nil
}

// intArithmetic performs exact integer arithmetic. It reports false when the
// result does not fit an int64 or is not integral, so the caller falls back
// to decimals.
func intArithmetic(op Op, x, y int64) (Value, bool) {
	switch op {
	case OpAdd:
		r := x + y
		if (r > x) == (y > 0) {
			return Int(r), true
		}
	case OpSubtract:
		r := x - y
		if (r < x) == (y > 0) {
			return Int(r), true
		}
	case OpMultiply:
		if x == 0 || y == 0 {
			return Int(0), true
		}
		r := x * y
		if r/y == x && !(x == -1 && y == math.MinInt64) && !(y == -1 && x == math.MinInt64) {
			return Int(r), true
		}
	case OpDivide:
		if y == 0 {
			return Null(), true
		}
		if x%y == 0 && !(x == math.MinInt64 && y == -1) {
			return Int(x / y), true
		}
	case OpModulo:
		if y == 0 {
			return Null(), true
		}
		return Int(x % y), true
	}
	return Null(), false
}

func resultPrecision(a, b Value) int32 {
	pa, pb := a.Precision(), b.Precision()
	switch {
	case pa < 0:
		return pb
	case pb < 0:
		return pa
	case pa > pb:
		return pa
	}
	return pb
}

// Negate returns -v for numbers and Null for Null.
func Negate(v Value) (Value, error) {
	switch v.kind {
	case KindNull:
		return v, nil
	case KindInteger:
		if v.i == math.MinInt64 {
			return DecWithPrecision(decimal.NewFromInt(v.i).Neg(), -1), nil
		}
		return Int(-v.i), nil
	case KindDecimal:
		return DecWithPrecision(v.d.Neg(), v.prec), nil
	}
	return Null(), engine.NewTypeMismatch(fmt.Sprintf("operator - not defined for %s", v.kind))
}

// Not returns the logical negation of v's truthiness.
func Not(v Value) Value {
	return Bool(!v.Truthy())
}

// Max returns the larger of two comparable values, ignoring Null.
func Max(a, b Value) (Value, error) {
	return pick(OpGreaterThan, a, b)
}

// Min returns the smaller of two comparable values, ignoring Null.
func Min(a, b Value) (Value, error) {
	return pick(OpLessThan, a, b)
}

func pick(op Op, a, b Value) (Value, error) {
	if a.IsNull() {
		return b, nil
	}
	if b.IsNull() {
		return a, nil
	}
	r, err := compare(op, b, a)
	if err != nil {
		return Null(), err
	}
	if r.b {
		return b, nil
	}
	return a, nil
}
