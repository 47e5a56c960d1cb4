package config

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/solver"
)

func TestScenarioLoader_LoadFile(t *testing.T) {
	scenarios, err := NewScenarioLoader().LoadFile(context.Background(), "testdata/scenarios.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	var names []string
	for _, sc := range scenarios {
		names = append(names, sc.Name)
	}
	if diff := cmp.Diff([]string{"new-vehicle", "agent", "out-of-range"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(newVehicle, scenarios[0]); diff != "" {
		t.Errorf("new-vehicle mismatch (-want +got):\n%s", diff)
	}

	store := loadStore(t, "testdata/policy.yaml")
	results := solver.RunScenarios(context.Background(), store, scenarios, 2)

	agent := results[1]
	if agent.Err != nil || agent.Result.State != engine.StateStable {
		t.Fatalf("agent: err = %v, result = %+v", agent.Err, agent.Result)
	}
	if got := agent.Result.Snapshot.Count("vehicles"); got < 2 {
		t.Errorf("agent vehicles = %d, want at least 2", got)
	}
	for _, h := range agent.Result.Snapshot.Hidden {
		if h == "Tier" {
			t.Error("Tier must be visible to agents")
		}
	}

	rejected := results[2].Rejected
	if len(rejected) != 1 || rejected[0].Code != engine.ErrCodeDomainViolation {
		t.Errorf("out-of-range rejected = %+v, want one domain violation", rejected)
	}
}

func TestScenarioLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no scenarios", "scenarios: []\n"},
		{"unknown field", "scenarios:\n  - name: a\n    script: x\n"},
		{"missing name", "scenarios:\n  - edits: []\n"},
		{"bad op", "scenarios:\n  - name: a\n    edits:\n      - {op: delete, path: X}\n"},
		{"missing path", "scenarios:\n  - name: a\n    edits:\n      - {op: remove}\n"},
		{"duplicate", "scenarios:\n  - name: a\n  - name: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewScenarioLoader().Parse(context.Background(), "inline.yaml", []byte(tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
