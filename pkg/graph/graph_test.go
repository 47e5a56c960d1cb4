package graph

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/value"
)

func testStore(t *testing.T) *model.Store {
	t.Helper()
	types := []*model.Type{
		{
			Name: "Policy",
			Attributes: []*model.Attribute{
				{Name: "Name", Kind: value.KindString, Precision: -1, Default: value.Str("auto"), Configurable: true},
			},
			Relations: []*model.Relation{
				{Name: "vehicles", Target: "Vehicle", Min: 1, Max: 2},
				{Name: "extras", Target: "Extra", Min: 0, Max: -1, CloseRelation: true},
				{Name: "drivers", Target: "Driver", Min: 0, Max: 3},
			},
		},
		{
			Name: "Vehicle",
			Attributes: []*model.Attribute{
				{Name: "Year", Kind: value.KindInteger, Precision: -1, Default: value.Int(2020), Configurable: true},
			},
			Relations: []*model.Relation{
				{Name: "engine", Target: "Engine", Min: 1, Max: 1},
			},
		},
		{Name: "Engine"},
		{Name: "Extra"},
		{Name: "Driver", Annotations: map[string]value.Value{model.AnnotationAbstract: value.Bool(true)}},
		{Name: "YoungDriver", Parent: "Driver"},
	}
	s, err := model.Build(types, model.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return s
}

func newGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New(testStore(t), "Policy")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_SeedsMandatoryRelations(t *testing.T) {
	g := newGraph(t)
	root := g.Root()

	if root.Count("vehicles") != 1 {
		t.Fatalf("Expected 1 seeded vehicle, got %d", root.Count("vehicles"))
	}
	v := root.Children("vehicles")[0]
	if v.Path() != "Policy/vehicles[0]" {
		t.Errorf("Unexpected path %s", v.Path())
	}
	if v.Count("engine") != 1 {
		t.Errorf("Expected nested engine to be seeded")
	}
	if v.Source() != engine.SourceSeed {
		t.Errorf("Expected seed source, got %s", v.Source())
	}
	if year, _ := v.Value("Year"); !year.Equal(value.Int(2020)) {
		t.Errorf("Expected default Year 2020, got %s", year)
	}
	if g.Journal().Len() != 0 {
		t.Errorf("Expected seeding to be committed, journal has %d entries", g.Journal().Len())
	}
	if _, ok := g.Lookup("Policy/vehicles[0]/engine[0]"); !ok {
		t.Error("Expected engine to be indexed by path")
	}
}

func TestCreateChild_Cardinality(t *testing.T) {
	g := newGraph(t)
	root := g.Root()

	if _, err := g.CreateChild(root, "vehicles", "", engine.SourceUser); err != nil {
		t.Fatalf("Expected second vehicle to be created, got %v", err)
	}
	_, err := g.CreateChild(root, "vehicles", "", engine.SourceUser)
	if !engine.IsCardinalityViolation(err) {
		t.Fatalf("Expected CardinalityViolation at max, got %v", err)
	}
	if root.Count("vehicles") != 2 {
		t.Errorf("Expected count to stay at 2, got %d", root.Count("vehicles"))
	}
}

func TestCreateChild_CloseRelation(t *testing.T) {
	g := newGraph(t)
	root := g.Root()

	for _, src := range []engine.CreationSource{engine.SourceSpeculative, engine.SourceDerivation} {
		child, err := g.CreateChild(root, "extras", "", src)
		if err != nil || child != nil {
			t.Errorf("Expected silent no-op for %s, got %v %v", src, child, err)
		}
	}
	for _, src := range []engine.CreationSource{engine.SourceUser, engine.SourceRequire} {
		if _, err := g.CreateChild(root, "extras", "", src); err != nil {
			t.Errorf("Expected %s creation to bypass closeRelation, got %v", src, err)
		}
	}
	if root.Count("extras") != 2 {
		t.Errorf("Expected 2 extras, got %d", root.Count("extras"))
	}
}

func TestCreateChild_Types(t *testing.T) {
	g := newGraph(t)
	root := g.Root()

	child, err := g.CreateChild(root, "drivers", "", engine.SourceUser)
	if err != nil {
		t.Fatalf("Expected default concrete subtype, got %v", err)
	}
	if child.Type() != "YoungDriver" {
		t.Errorf("Expected YoungDriver, got %s", child.Type())
	}
	if _, err := g.CreateChild(root, "drivers", "Driver", engine.SourceUser); !engine.IsDomainViolation(err) {
		t.Errorf("Expected abstract type to be rejected, got %v", err)
	}
	if _, err := g.CreateChild(root, "drivers", "Engine", engine.SourceUser); !engine.IsDomainViolation(err) {
		t.Errorf("Expected unrelated type to be rejected, got %v", err)
	}
	if _, err := g.CreateChild(root, "nope", "", engine.SourceUser); engine.CodeOf(err) != engine.ErrCodeNotFound {
		t.Errorf("Expected NotFound for unknown relation, got %v", err)
	}
}

func TestCreateChild_Excluded(t *testing.T) {
	g := newGraph(t)
	root := g.Root()
	root.Block("drivers", "Policy.exclude[0]")

	_, err := g.CreateChild(root, "drivers", "", engine.SourceRequire)
	if !engine.IsCardinalityViolation(err) {
		t.Fatalf("Expected CardinalityViolation on excluded relation, got %v", err)
	}
	if !strings.Contains(err.Error(), "excluded") {
		t.Errorf("Expected exclusion in message, got %v", err)
	}

	g.ClearAnnotations()
	if _, err := g.CreateChild(root, "drivers", "", engine.SourceRequire); err != nil {
		t.Errorf("Expected creation after block is cleared, got %v", err)
	}
}

func TestRemoveChild(t *testing.T) {
	g := newGraph(t)
	root := g.Root()
	v := root.Children("vehicles")[0]

	if err := g.RemoveChild(v, false); !engine.IsCardinalityViolation(err) {
		t.Fatalf("Expected CardinalityViolation below min, got %v", err)
	}
	if err := g.RemoveChild(v, true); !engine.IsCardinalityViolation(err) {
		t.Fatalf("Expected forced removal below min to fail without option, got %v", err)
	}

	g.ExcludeBelowMin = true
	if err := g.RemoveChild(v, true); err != nil {
		t.Fatalf("Expected forced removal with option, got %v", err)
	}
	if _, ok := g.Lookup("Policy/vehicles[0]/engine[0]"); ok {
		t.Error("Expected subtree to be unindexed")
	}
	if err := g.RemoveChild(root, false); !engine.IsCardinalityViolation(err) {
		t.Errorf("Expected root removal to fail, got %v", err)
	}
}

func TestJournal_Rollback(t *testing.T) {
	g := newGraph(t)
	root := g.Root()
	v := root.Children("vehicles")[0]
	before := g.Snapshot()

	mark := g.Journal().Mark()
	version := g.Version()

	g.Set(v, "Year", value.Int(2024))
	g.SetLocked(v, "Year", true)
	g.SetItemValue(root, "inputUnitPrice", value.Int(250))
	g.SetAggregate(root, "vehicles", "maxYear", value.Int(2024))
	second, err := g.CreateChild(root, "vehicles", "", engine.SourceSpeculative)
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if err := g.RemoveChild(v, false); err != nil {
		t.Fatalf("RemoveChild: %v", err)
	}

	if g.Version() == version {
		t.Fatal("Expected version to advance")
	}

	g.Journal().Rollback(mark)

	if _, ok := g.Get(second.ID()); ok {
		t.Error("Expected speculative child to be removed by rollback")
	}
	if root.Count("vehicles") != 1 || root.Children("vehicles")[0] != v {
		t.Error("Expected original vehicle to be restored")
	}
	if year, _ := v.Value("Year"); !year.Equal(value.Int(2020)) {
		t.Errorf("Expected Year restored to 2020, got %s", year)
	}
	if v.Locked("Year") {
		t.Error("Expected lock to be rolled back")
	}
	if _, ok := root.ItemValue("inputUnitPrice"); ok {
		t.Error("Expected item value to be rolled back")
	}
	if _, ok := root.Aggregate("vehicles", "maxYear"); ok {
		t.Error("Expected aggregate to be rolled back")
	}

	after := g.Snapshot()
	a, _ := json.Marshal(before)
	b, _ := json.Marshal(after)
	if string(a) != string(b) {
		t.Errorf("Snapshot differs after rollback:\n%s\n%s", a, b)
	}

	next, err := g.CreateChild(root, "vehicles", "", engine.SourceUser)
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if next.Path() != "Policy/vehicles[1]" {
		t.Errorf("Expected path index to be rolled back, got %s", next.Path())
	}
}

func TestSet_ReportsChange(t *testing.T) {
	g := newGraph(t)
	v := g.Root().Children("vehicles")[0]

	if g.Set(v, "Year", value.Int(2020)) {
		t.Error("Expected identical value to be a no-op")
	}
	if !g.Set(v, "Year", value.Int(2021)) {
		t.Error("Expected change to be reported")
	}
	if g.SetItemValue(v, "tag", value.Null()) {
		t.Error("Expected removing an absent item to be a no-op")
	}
}

func TestSnapshotAndDigest(t *testing.T) {
	g := newGraph(t)
	root := g.Root()
	root.Hide("Name")
	root.HideValue("Name", value.Str("auto"))
	root.AddMessage("check drivers", engine.SeverityWarning, "Policy.message[0]")

	snap := g.Snapshot()
	if snap.Type != "Policy" || snap.Count("vehicles") != 1 {
		t.Fatalf("Unexpected snapshot root: %+v", snap)
	}
	if len(snap.Hidden) != 1 || snap.Hidden[0] != "Name" {
		t.Errorf("Expected hidden Name, got %v", snap.Hidden)
	}
	if _, ok := snap.Find("Policy/vehicles[0]/engine[0]"); !ok {
		t.Error("Expected Find to locate nested instance")
	}
	if len(g.Messages()) != 1 || g.Messages()[0].Instance != "Policy" {
		t.Errorf("Unexpected messages %v", g.Messages())
	}

	visited := 0
	snap.Walk(func(*InstanceSnapshot) { visited++ })
	if visited != 3 {
		t.Errorf("Expected 3 snapshot nodes, got %d", visited)
	}

	digest := g.Digest()
	g.ClearAnnotations()
	if g.Digest() == digest {
		t.Error("Expected digest to change after clearing annotations")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"Year":2020`) {
		t.Errorf("Expected attribute values in JSON, got %s", data)
	}
}

func TestNew_Errors(t *testing.T) {
	s := testStore(t)
	if _, err := New(s, "Nope"); engine.CodeOf(err) != engine.ErrCodeNotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if _, err := New(s, "Driver"); !engine.IsDomainViolation(err) {
		t.Errorf("Expected abstract root to be rejected, got %v", err)
	}
}
