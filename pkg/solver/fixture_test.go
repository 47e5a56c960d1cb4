package solver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openfroyo/configurator/pkg/contextdef"
	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/expr"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
	"github.com/openfroyo/configurator/pkg/value"
)

const (
	rootPath    = "AutoSilver"
	vehicle0    = "AutoSilver/vehicles[0]"
	medical0    = "AutoSilver/medicalpayments[0]"
	collision0  = "AutoSilver/collision[0]"
	uninsured0  = "AutoSilver/uninsuredMotorist[0]"
	bodilyPath0 = "AutoSilver/bodilyinjurypropertydamage[0]"
)

func enumAttr(name string, def int64, vals ...int64) *model.Attribute {
	domain := make([]value.Value, len(vals))
	for i, v := range vals {
		domain[i] = value.Int(v)
	}
	return &model.Attribute{
		Name: name, Kind: value.KindInteger, Precision: -1, Configurable: true,
		Default: value.Int(def), Domain: model.Domain{Values: domain},
	}
}

func rangeAttr(name string, def, lo, hi int64) *model.Attribute {
	return &model.Attribute{
		Name: name, Kind: value.KindInteger, Precision: -1, Configurable: true,
		Default: value.Int(def), Domain: model.Domain{Min: value.Int(lo), Max: value.Int(hi)},
	}
}

func dec(s string) value.Value {
	return value.Dec(decimal.RequireFromString(s))
}

func constraint(cond, implication, text string) *model.Directive {
	return &model.Directive{
		Kind: model.DirectiveConstraint, Condition: expr.MustParse(cond),
		Implication: expr.MustParse(implication), Text: text,
	}
}

func autoSilverTypes() []*model.Type {
	return []*model.Type{
		{
			Name: "AutoSilver",
			Attributes: []*model.Attribute{
				{
					Name: "UserProfile", Kind: value.KindString, Precision: -1, Default: value.Str("Guest"),
					ContextPath: "SalesTransaction", AttributeSource: "UserProfile",
				},
				{Name: "inputUnitPrice", Kind: value.KindDecimal, Precision: 2, TagName: "inputUnitPrice"},
				{
					Name: "RatingFactor", Kind: value.KindInteger, Precision: -1, Default: value.Int(3),
					Domain: model.Domain{Min: value.Int(1), Max: value.Int(5)},
				},
			},
			Relations: []*model.Relation{
				{
					Name: "vehicles", Target: "Vehicle", Min: 1, Max: 4, PropagateUp: true,
					Aggregates: []*model.Aggregate{
						{Name: "maxYear", Expr: expr.MustParse("max(Year)")},
						{Name: "maxValue", Expr: expr.MustParse("max(Auto_Value)")},
					},
				},
				{Name: "medicalpayments", Target: "MedicalPayments", Min: 0, Max: 1, CloseRelation: true},
				{Name: "collision", Target: "Collision", Min: 0, Max: 1},
				{Name: "uninsuredMotorist", Target: "UninsuredMotorist", Min: 0, Max: 1},
				{Name: "bodilyinjurypropertydamage", Target: "BIPD", Min: 0, Max: 1},
			},
			Directives: []*model.Directive{
				{
					ID: "needMedical", Kind: model.DirectiveRequire, Relation: "medicalpayments",
					Condition: expr.MustParse("vehicles.maxValue > 50000"),
					Text:      "high value vehicles need medical payments",
				},
				{
					ID: "needCollision", Kind: model.DirectiveRequire, Relation: "collision",
					Condition: expr.MustParse("vehicles.maxYear >= 2024"),
				},
				{
					ID: "noUninsured", Kind: model.DirectiveExclude, Relation: "uninsuredMotorist",
					Condition: expr.MustParse("collision.Deductible == 200 && vehicles.maxYear < 2020"),
				},
				{
					ID: "needBIPD", Kind: model.DirectiveRequire, Relation: "bodilyinjurypropertydamage",
					Condition: expr.MustParse(
						`medicalpayments.Deductible == 500 && UserProfile == "Standard User" && inputUnitPrice >= 250`),
				},
				constraint("vehicles.maxValue > 900000", "RatingFactor >= 4", "rating factor too low for fleet value"),
				{
					Kind: model.DirectiveRule, Condition: expr.MustParse(`UserProfile != "Underwriter"`),
					Action: model.ActionHide, Attribute: "RatingFactor",
				},
				{
					ID: "multiVehicle", Kind: model.DirectiveMessage, Condition: expr.MustParse("vehicles > 2"),
					Text: "multi-vehicle discount available", Severity: engine.SeverityWarning,
				},
			},
		},
		{
			Name: "Vehicle",
			Attributes: []*model.Attribute{
				rangeAttr("Year", 2020, 1980, 2026),
				rangeAttr("Auto_Value", 0, 0, 5000000),
				{
					Name: "Rate", Kind: value.KindDecimal, Precision: 2, Default: dec("0.50"),
					Domain: model.Domain{Min: value.Int(0), Max: value.Int(1)},
				},
			},
		},
		{
			Name: "MedicalPayments",
			Attributes: []*model.Attribute{
				enumAttr("Limit", 5000, 2000, 5000),
				enumAttr("Deductible", 250, 250, 500, 1000),
			},
			Directives: []*model.Directive{
				constraint("parent(vehicles.maxYear) < 2020", "Limit == 2000", "older fleets cap medical payments at 2000"),
			},
		},
		{
			Name: "Collision",
			Attributes: []*model.Attribute{
				enumAttr("Limit", 2000, 2000, 5000),
				enumAttr("Deductible", 500, 200, 500, 1000),
			},
			Directives: []*model.Directive{
				constraint("parent(vehicles.maxYear) >= 2024", "Limit == 5000", "new vehicles need a 5000 collision limit"),
			},
		},
		{
			Name:       "UninsuredMotorist",
			Attributes: []*model.Attribute{enumAttr("Limit", 1000, 1000, 3000)},
		},
		{
			Name:       "BIPD",
			Attributes: []*model.Attribute{enumAttr("Bodily_Injury_Per_Person_Limit", 2500, 1000, 2500, 5000)},
			Directives: []*model.Directive{
				constraint(`parent(UserProfile) == "Standard User"`, "Bodily_Injury_Per_Person_Limit == 1000",
					"standard users are limited to 1000 per person"),
			},
		},
	}
}

// quoteTypes is a small model for the search and failure paths.
func quoteTypes() []*model.Type {
	return []*model.Type{
		{
			Name: "Quote",
			Attributes: []*model.Attribute{
				enumAttr("Tier", 1, 1, 2, 3),
				enumAttr("Discount", 0, 0, 10, 20),
				{
					Name: "Region", Kind: value.KindString, Precision: -1, Configurable: true, Default: value.Str("EU"),
					Domain: model.Domain{Values: []value.Value{value.Str("EU"), value.Str("US")}},
				},
			},
			Relations: []*model.Relation{
				{Name: "drivers", Target: "Driver", Min: 0, Max: 2},
			},
			Directives: []*model.Directive{
				constraint("Tier == 3", "Discount == 30", "tier 3 needs a discount of 30"),
				constraint("Tier >= 2", "drivers >= 1", "tier 2 quotes need a driver"),
				{
					Kind: model.DirectiveConstraint, Condition: expr.MustParse(`Region == "US"`),
					Implication: expr.MustParse("Tier == 1"), Text: "US quotes are tier 1 only", Abort: true,
				},
			},
		},
		{
			Name:       "Driver",
			Attributes: []*model.Attribute{rangeAttr("Age", 30, 16, 99)},
		},
	}
}

func nopEvaluation(sess *Session) *telemetry.Evaluation {
	_, ev := telemetry.StartEvaluation(telemetry.Nop().WithContext(context.Background()), sess.ID(), sess.Root())
	return ev
}

func buildStore(t *testing.T, types []*model.Type) *model.Store {
	t.Helper()
	store, err := model.Build(types, model.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return store
}

func standardUser(t *testing.T) contextdef.Provider {
	t.Helper()
	p, err := contextdef.NewMapProvider(map[string]interface{}{
		"SalesTransaction": map[string]interface{}{"UserProfile": "Standard User"},
	})
	if err != nil {
		t.Fatalf("NewMapProvider() error = %v", err)
	}
	return p
}

// newSession creates and evaluates a session, failing unless it is stable.
func newSession(t *testing.T, types []*model.Type, opts ...Option) *Session {
	t.Helper()
	sess, err := NewSession(buildStore(t, types), opts...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	stable(t)(sess.Evaluate(context.Background()))
	return sess
}

// stable asserts that an evaluation succeeded and reached Stable.
func stable(t *testing.T) func(*Result, error) *Result {
	return func(res *Result, err error) *Result {
		t.Helper()
		if err != nil {
			t.Fatalf("evaluation error = %v", err)
		}
		if res.State != engine.StateStable {
			t.Fatalf("State = %s (%s), want Stable", res.State, res.Reason)
		}
		return res
	}
}

func valueAt(t *testing.T, sess *Session, path, attr string) value.Value {
	t.Helper()
	inst, ok := sess.Graph().Lookup(path)
	if !ok {
		t.Fatalf("no instance at %s", path)
	}
	v, ok := inst.Value(attr)
	if !ok {
		t.Fatalf("%s has no attribute %s", path, attr)
	}
	return v
}

func wantValue(t *testing.T, sess *Session, path, attr string, want value.Value) {
	t.Helper()
	if got := valueAt(t, sess, path, attr); !got.Equal(want) {
		t.Errorf("%s.%s = %s, want %s", path, attr, got.GoString(), want.GoString())
	}
}

func snapshotJSON(t *testing.T, s *graph.InstanceSnapshot) string {
	t.Helper()
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(b)
}

// checkCardinality asserts that every relation count lies within bounds.
func checkCardinality(t *testing.T, store *model.Store, snap *graph.InstanceSnapshot) {
	t.Helper()
	snap.Walk(func(s *graph.InstanceSnapshot) {
		for _, r := range store.Relations(s.Type) {
			if n := s.Count(r.Name); !r.Allows(n) {
				t.Errorf("%s/%s has %d instances, want [%d..%d]", s.Path, r.Name, n, r.Min, r.Max)
			}
		}
	})
}
