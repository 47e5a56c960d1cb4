package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/solver"
	"github.com/openfroyo/configurator/pkg/value"
)

func loadStore(t *testing.T, sources ...string) *model.Store {
	t.Helper()
	store, report, err := NewLoader(model.BuildOptions{}).Load(context.Background(), sources...)
	if err != nil {
		t.Fatalf("Load(%v) error = %v", sources, err)
	}
	if report.Types != 3 {
		t.Errorf("report.Types = %d, want 3", report.Types)
	}
	return store
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

var newVehicle = solver.Scenario{
	Name: "new-vehicle",
	Edits: []solver.Edit{
		{Op: solver.OpSet, Path: "Policy/vehicles[0]", Attribute: "Year", Value: 2025},
		{Op: solver.OpSet, Path: "Policy/vehicles[0]", Attribute: "Value", Value: 30000},
	},
}

func TestLoader_Formats(t *testing.T) {
	tests := []struct {
		name    string
		sources []string
	}{
		{"yaml", []string{"testdata/policy.yaml"}},
		{"cue", []string{"testdata/policy.cue"}},
		{"hcl", []string{"testdata/policy.hcl"}},
		{"split directory", []string{"testdata/split"}},
		{"split files", []string{"testdata/split/policy.yaml", "testdata/split/vehicle.hcl"}},
	}

	var reference *graph.InstanceSnapshot
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := loadStore(t, tt.sources...)

			if got := store.Roots(); !cmp.Equal(got, []string{"Policy"}) {
				t.Errorf("Roots() = %v, want [Policy]", got)
			}
			if v, ok := store.Annotation("Vehicle", "label"); !ok || !v.Equal(value.Str("Private vehicle")) {
				t.Errorf("Vehicle label = %v, %v", v, ok)
			}
			premium, ok := findAttribute(store, "Policy", "Premium")
			if !ok || premium.Kind != value.KindDecimal || premium.Precision != 2 || !premium.IsDerived() {
				t.Errorf("Premium = %+v, want derived decimal(2)", premium)
			}

			out := solver.RunScenario(context.Background(), store, newVehicle)
			if out.Err != nil {
				t.Fatalf("RunScenario() error = %v", out.Err)
			}
			if out.Result.State != engine.StateStable {
				t.Fatalf("State = %s (%s)", out.Result.State, out.Result.Reason)
			}
			snap := out.Result.Snapshot
			if got := snap.Attributes["Premium"]; !got.Equal(value.Int(300)) {
				t.Errorf("Premium = %s, want 300.00", got.GoString())
			}
			collision, ok := snap.Find("Policy/collision[0]")
			if !ok {
				t.Fatal("collision was not required")
			}
			if got := collision.Attributes["Limit"]; !got.Equal(value.Int(5000)) {
				t.Errorf("Limit = %s, want 5000", got.GoString())
			}

			// Every format must yield the same configuration.
			if reference == nil {
				reference = snap
				return
			}
			ignoreIDs := cmpopts.IgnoreFields(graph.InstanceSnapshot{}, "ID")
			if diff := cmp.Diff(reference, snap, ignoreIDs); diff != "" {
				t.Errorf("snapshot differs from yaml (-yaml +%s):\n%s", tt.name, diff)
			}
		})
	}
}

func findAttribute(store *model.Store, typeName, name string) (*model.Attribute, bool) {
	for _, a := range store.Attributes(typeName) {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func TestLoader_DuplicateTypes(t *testing.T) {
	_, _, err := NewLoader(model.BuildOptions{}).Load(context.Background(),
		"testdata/policy.yaml", "testdata/split/vehicle.hcl")
	if !errors.Is(err, engine.ErrInvalidReference) {
		t.Fatalf("Load() error = %v, want InvalidReference", err)
	}
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml unknown field",
			file: "m.yaml",
			content: `types:
  - name: A
    colour: red
`,
		},
		{
			name: "yaml missing kind",
			file: "m.yaml",
			content: `types:
  - name: A
    attributes:
      - name: x
`,
		},
		{
			name: "yaml bad severity",
			file: "m.yaml",
			content: `types:
  - name: A
    directives:
      - kind: message
        text: hi
        severity: Fatal
`,
		},
		{
			name: "yaml bad expression",
			file: "m.yaml",
			content: `types:
  - name: A
    attributes:
      - name: x
        kind: integer
        derivation: "1 +"
`,
		},
		{
			name: "yaml default outside domain",
			file: "m.yaml",
			content: `types:
  - name: A
    attributes:
      - name: x
        kind: integer
        domain: {values: [1, 2]}
        default: 3
`,
		},
		{
			name:    "yaml no types",
			file:    "m.yaml",
			content: "types: []\n",
		},
		{
			name: "cue unknown kind",
			file: "m.cue",
			content: `types: [{name: "A", attributes: [{name: "x", kind: "float"}]}]
`,
		},
		{
			name:    "cue syntax",
			file:    "m.cue",
			content: `types: [{name: "A"`,
		},
		{
			name: "hcl unknown block",
			file: "m.hcl",
			content: `type "A" {
  widget "x" {}
}
`,
		},
		{
			name: "hcl unsupported expression",
			file: "m.hcl",
			content: `type "A" {
  attribute "x" {
    kind       = "integer"
    derivation = [for v in y : v]
  }
}
`,
		},
		{
			name: "hcl non-literal default",
			file: "m.hcl",
			content: `type "A" {
  attribute "x" {
    kind    = "integer"
    default = other
  }
}
`,
		},
		{
			name:    "unsupported extension",
			file:    "m.json",
			content: "{}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			store, _, err := NewLoader(model.BuildOptions{}).Load(context.Background(), path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if store != nil {
				t.Error("a rejected model must not yield a store")
			}
			if !engine.IsModelError(err) && !errors.Is(err, engine.ErrInvalidReference) {
				t.Errorf("error class = %s, want model: %v", engine.ClassOf(err), err)
			}
		})
	}
}

func TestLoader_MissingSource(t *testing.T) {
	if _, _, err := NewLoader(model.BuildOptions{}).Load(context.Background()); err == nil {
		t.Error("expected error for no sources")
	}
	if _, _, err := NewLoader(model.BuildOptions{}).Load(context.Background(), "testdata/nope.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, _, err := NewLoader(model.BuildOptions{}).Load(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestYAMLParser_MultiDocument(t *testing.T) {
	content := []byte(`types:
  - name: A
    relations:
      - {name: bs, target: B, max: -1}
---
types:
  - name: B
    attributes:
      - {name: enabled, kind: boolean, default: false}
`)
	types, err := NewYAMLParser().Parse(context.Background(), "inline.yaml", content)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("len(types) = %d, want 2", len(types))
	}
	if r := types[0].Relations[0]; r.Bounded() {
		t.Errorf("relation max = %d, want unbounded", r.Max)
	}
	if a := types[1].Attributes[0]; !a.Configurable || a.Kind != value.KindBoolean {
		t.Errorf("attribute = %+v, want configurable boolean", a)
	}
}

func TestCUEParser_ParseInline(t *testing.T) {
	types, err := NewCUEParser().ParseInline(context.Background(), `
#Money: {kind: "decimal(2)", configurable: false, ...}

types: [{
	name: "Item"
	attributes: [#Money & {name: "price", default: 9.99}]
}]
`)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}
	a := types[0].Attributes[0]
	if a.Configurable {
		t.Error("price should not be configurable")
	}
	want, _ := value.ParseDecimal("9.99")
	if !a.Default.Equal(want) {
		t.Errorf("default = %s, want 9.99", a.Default.GoString())
	}
}

func TestHCLParser_Literals(t *testing.T) {
	types, err := NewHCLParser().Parse(context.Background(), "inline.hcl", []byte(`
type "Item" {
  annotations = {
    abort = true
  }

  attribute "size" {
    kind         = "string"
    values       = ["S", "M", "L"]
    default      = "M"
    configurable = false
  }

  directive "rule" {
    action    = "hide"
    attribute = "size"
    value     = "L"
  }
}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	it := types[0]
	if v := it.Annotations[model.AnnotationAbort]; !v.Equal(value.Bool(true)) {
		t.Errorf("abort annotation = %s", v.GoString())
	}
	want := []value.Value{value.Str("S"), value.Str("M"), value.Str("L")}
	if diff := cmp.Diff(want, it.Attributes[0].Domain.Values); diff != "" {
		t.Errorf("domain mismatch (-want +got):\n%s", diff)
	}
	if d := it.Directives[0]; !d.HasValue || !d.Value.Equal(value.Str("L")) || d.Condition != nil {
		t.Errorf("rule = %+v, want unconditional hide of L", d)
	}
}
