package expr

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// testScope is an in-memory Scope.
type testScope struct {
	typ    []string
	attrs  map[string]value.Value
	rels   map[string][]*testScope
	aggs   map[string]value.Value
	parent *testScope
}

func (s *testScope) Attribute(name string) (value.Value, bool) {
	v, ok := s.attrs[name]
	return v, ok
}

func (s *testScope) Children(relation string) ([]Scope, bool) {
	kids, ok := s.rels[relation]
	if !ok {
		return nil, false
	}
	out := make([]Scope, len(kids))
	for i, k := range kids {
		out[i] = k
	}
	return out, true
}

func (s *testScope) Aggregate(relation, name string) (value.Value, bool) {
	v, ok := s.aggs[relation+"."+name]
	return v, ok
}

func (s *testScope) Parent() Scope {
	if s.parent == nil {
		return nil
	}
	return s.parent
}

func (s *testScope) IsA(typeName string) bool {
	for _, t := range s.typ {
		if t == typeName {
			return true
		}
	}
	return false
}

func vehicle(year, autoValue int64) *testScope {
	return &testScope{
		typ: []string{"Vehicle"},
		attrs: map[string]value.Value{
			"Year":       value.Int(year),
			"Auto_Value": value.Int(autoValue),
		},
		rels: map[string][]*testScope{},
	}
}

func policyScope(vehicles ...*testScope) *testScope {
	root := &testScope{
		typ: []string{"AutoSilver", "Policy"},
		attrs: map[string]value.Value{
			"isAuto":      value.Bool(true),
			"UserProfile": value.Str("Standard User"),
			"Missing":     value.Null(),
		},
		rels: map[string][]*testScope{
			"vehicles":  vehicles,
			"collision": {},
		},
		aggs: map[string]value.Value{
			"vehicles.maxYear": value.Int(2024),
		},
	}
	for _, v := range vehicles {
		v.parent = root
	}
	return root
}

func TestEvaluate(t *testing.T) {
	root := policyScope(vehicle(2015, 60000), vehicle(2024, 30000))

	tests := []struct {
		name string
		src  string
		want value.Value
	}{
		{"literal", "60000", value.Int(60000)},
		{"decimal literal", "2.5", mustValue(t, "2.5")},
		{"string equality", `UserProfile == "Standard User"`, value.Bool(true)},
		{"relation count", "vehicles", value.Int(2)},
		{"type filter", "vehicles[Vehicle] > 1", value.Bool(true)},
		{"type filter no match", "vehicles[Truck]", value.Int(0)},
		{"aggregate member", "vehicles.maxYear", value.Int(2024)},
		{"first child attribute", "vehicles.Year", value.Int(2015)},
		{"indexed child attribute", "vehicles[1].Year", value.Int(2024)},
		{"index out of range", "vehicles[5].Year", value.Null()},
		{"empty relation member", "collision.Deductible", value.Null()},
		{"explicit null check", "collision.Deductible == null", value.Bool(true)},
		{"null comparison fails", "Missing > 3", value.Bool(false)},
		{"explicit max", "max(vehicles, Year)", value.Int(2024)},
		{"explicit min", "min(vehicles, Auto_Value)", value.Int(30000)},
		{"explicit sum", "sum(vehicles, Auto_Value)", value.Int(90000)},
		{"explicit count predicate", "count(vehicles, Year > 2016)", value.Int(1)},
		{"empty max", "max(collision, Deductible)", value.Null()},
		{"empty sum", "sum(collision, Deductible)", value.Int(0)},
		{"empty count", "count(collision, Deductible > 0)", value.Int(0)},
		{"short circuit and", "false && nosuchname", value.Bool(false)},
		{"short circuit or", "isAuto || nosuchname", value.Bool(true)},
		{"conditional", "isAuto ? 2000 : 0", value.Int(2000)},
		{"parentheses", "(1 + 2) * 3", value.Int(9)},
		{"unary", "!isAuto", value.Bool(false)},
		{"negate", "-vehicles", value.Int(-2)},
		{"template", `"${UserProfile}!"`, value.Str("Standard User!")},
		{"parent at root", "parent(isAuto)", value.Null()},
		{"subtraction needs spaces", "vehicles.maxYear - 2000", value.Int(24)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.src, err)
			}
			got, err := e.Evaluate(root)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", tt.src, err)
			}
			if !got.Identical(tt.want) {
				t.Errorf("Evaluate(%q) = %#v, want %#v", tt.src, got, tt.want)
			}
		})
	}
}

func mustValue(t *testing.T, s string) value.Value {
	t.Helper()
	v, err := value.ParseNumber(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestEvaluate_ParentLookup(t *testing.T) {
	v := vehicle(2015, 60000)
	policyScope(v)

	ok, err := MustParse("parent(isAuto) && Year <= 2015").Test(v)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ok {
		t.Error("Expected condition to hold in child scope")
	}
}

func TestEvaluateOver_ImplicitRelation(t *testing.T) {
	root := policyScope(vehicle(2015, 60000), vehicle(2024, 30000))

	tests := []struct {
		src  string
		want value.Value
	}{
		{"max(Year)", value.Int(2024)},
		{"min(Year)", value.Int(2015)},
		{"sum(Auto_Value)", value.Int(90000)},
		{"count()", value.Int(2)},
		{"count(Auto_Value >= 60000)", value.Int(1)},
	}

	for _, tt := range tests {
		got, err := MustParse(tt.src).EvaluateOver(root, "vehicles")
		if err != nil {
			t.Fatalf("EvaluateOver(%q): %v", tt.src, err)
		}
		if !got.Identical(tt.want) {
			t.Errorf("EvaluateOver(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}

	if _, err := MustParse("max(Year)").Evaluate(root); !errors.Is(err, engine.ErrInvalidReference) {
		t.Errorf("Expected InvalidReference outside aggregate definition, got %v", err)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	root := policyScope(vehicle(2015, 60000))

	tests := []struct {
		name string
		src  string
		code string
	}{
		{"unknown name", "nosuchname > 1", engine.ErrCodeInvalidReference},
		{"unknown relation member", "nosuch.Year", engine.ErrCodeInvalidReference},
		{"member of attribute", "UserProfile.length", engine.ErrCodeTypeMismatch},
		{"string arithmetic", `UserProfile - 1`, engine.ErrCodeTypeMismatch},
		{"unknown child attribute", "vehicles.Color", engine.ErrCodeInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MustParse(tt.src).Evaluate(root)
			if got := engine.CodeOf(err); got != tt.code {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", "Year >"},
		{"unknown function", "upper(UserProfile)"},
		{"tuple", "[1, 2]"},
		{"deep traversal", "a.b.c"},
		{"arity", "parent()"},
		{"relation argument", "max(1, Year)"},
		{"computed index", "vehicles[Year + 1]"},
		{"splat", "vehicles[*].Year"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.src); err == nil {
				t.Errorf("Expected Parse(%q) to fail", tt.src)
			}
		})
	}
}

func TestReferences(t *testing.T) {
	e := MustParse(`parent(isAuto) && max(vehicles, Year) > 2020 && coverage[Collision] == 0 && vehicles.maxYear > 1 && Limit == null`)

	got := make([]string, 0)
	for _, r := range e.References() {
		got = append(got, r.String())
	}

	want := []string{
		"parent/isAuto",
		"vehicles",
		"vehicles/Year",
		"coverage[Collision]",
		"vehicles.maxYear",
		"Limit",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("References() mismatch (-want +got):\n%s", diff)
	}

	if !MustParse(`"x" == "x"`).IsLiteral() {
		t.Error("Expected literal expression")
	}
}

func TestSource(t *testing.T) {
	e := MustParse("Year >= 1980")
	if e.Source() != "Year >= 1980" || e.String() != "Year >= 1980" {
		t.Errorf("Unexpected source %q", e.Source())
	}

	var nilExpr *Expression
	if ok, err := nilExpr.Test(nil); !ok || err != nil {
		t.Errorf("Expected nil condition to be true, got %v %v", ok, err)
	}
}
