package model

import (
	"fmt"
	"strings"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// Domain restricts the values of an attribute: an enumerated set, a numeric
// range [Min..Max] with optional open ends, or unrestricted.
type Domain struct {
	Values []value.Value
	Min    value.Value
	Max    value.Value
}

// IsUnrestricted returns true if the domain accepts every value of the kind.
func (d Domain) IsUnrestricted() bool {
	return len(d.Values) == 0 && d.Min.IsNull() && d.Max.IsNull()
}

// IsRange returns true for a numeric range domain.
func (d Domain) IsRange() bool {
	return len(d.Values) == 0 && (!d.Min.IsNull() || !d.Max.IsNull())
}

// Contains reports whether v lies in the domain. Null is always contained.
func (d Domain) Contains(v value.Value) bool {
	if v.IsNull() {
		return true
	}
	if len(d.Values) > 0 {
		for _, allowed := range d.Values {
			if allowed.Equal(v) {
				return true
			}
		}
		return false
	}
	if !d.Min.IsNull() {
		ok, err := value.Binary(value.OpGreaterThanOrEqual, v, d.Min)
		if err != nil || !ok.Truthy() {
			return false
		}
	}
	if !d.Max.IsNull() {
		ok, err := value.Binary(value.OpLessThanOrEqual, v, d.Max)
		if err != nil || !ok.Truthy() {
			return false
		}
	}
	return true
}

// Candidates enumerates a finite domain in declaration order. Booleans
// enumerate false then true; closed integer ranges enumerate ascending. It
// reports false when the domain is not finite or exceeds limit.
func (d Domain) Candidates(kind value.Kind, limit int) ([]value.Value, bool) {
	if len(d.Values) > 0 {
		if len(d.Values) > limit {
			return nil, false
		}
		out := make([]value.Value, len(d.Values))
		copy(out, d.Values)
		return out, true
	}
	switch kind {
	case value.KindBoolean:
		return []value.Value{value.Bool(false), value.Bool(true)}, limit >= 2
	case value.KindInteger:
		lo, okLo := d.Min.AsInt()
		hi, okHi := d.Max.AsInt()
		if !okLo || !okHi || hi < lo || hi-lo >= int64(limit) {
			return nil, false
		}
		out := make([]value.Value, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			out = append(out, value.Int(i))
		}
		return out, true
	}
	return nil, false
}

func (d Domain) String() string {
	switch {
	case len(d.Values) > 0:
		parts := make([]string, len(d.Values))
		for i, v := range d.Values {
			parts[i] = v.GoString()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case d.IsRange():
		lo, hi := "", ""
		if !d.Min.IsNull() {
			lo = d.Min.String()
		}
		if !d.Max.IsNull() {
			hi = d.Max.String()
		}
		return "[" + lo + ".." + hi + "]"
	}
	return "any"
}

// Check converts v to the attribute's kind and verifies it lies in the
// domain. Failures are DomainViolation errors.
func (a *Attribute) Check(v value.Value) (value.Value, error) {
	converted, err := v.ConvertTo(a.Kind, a.Precision)
	if err != nil {
		return value.Null(), engine.NewDomainViolation(err.Error()).WithSubject(a.Name)
	}
	// Rounding to the precision must not pull an out-of-range value inside.
	if !a.Domain.Contains(converted) || (v.Kind().IsNumeric() && a.Domain.IsRange() && !a.Domain.Contains(v)) {
		return value.Null(), engine.NewDomainViolation(
			fmt.Sprintf("value %s is outside domain %s", v.GoString(), a.Domain),
		).WithSubject(a.Name).WithDetail("value", v.ToGo())
	}
	return converted, nil
}
