package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/configurator/pkg/engine"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", "testdata/cfgr.yaml"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type evalOutput struct {
	Name        string `json:"name"`
	Submittable bool   `json:"submittable"`
	Error       string `json:"error"`
	Result      struct {
		State string `json:"state"`
	} `json:"result"`
	Rejected []struct {
		Index int    `json:"index"`
		Code  string `json:"code"`
	} `json:"rejected"`
	Policy struct {
		Violations []struct {
			Policy string `json:"policy"`
		} `json:"violations"`
	} `json:"policy"`
}

func decodeEval(t *testing.T, out string) []evalOutput {
	t.Helper()
	var reports []evalOutput
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return reports
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "testdata/model")
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "model is valid: 3 type(s) from 1 file(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "roots: [Policy]") {
		t.Errorf("expected Policy root in output:\n%s", out)
	}
}

func TestValidateCommand_JSON(t *testing.T) {
	out, err := execute(t, "--json", "validate", "testdata/model", "--scenarios", "testdata/scenarios.yaml")
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	var report validateReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !report.Valid || report.Scenarios != 2 {
		t.Errorf("report = %+v", report)
	}
	if diff := cmp.Diff([]string{"Policy", "Vehicle", "Collision"}, report.Types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("types:\n  - name: A\n    parent: Missing\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "broken model",
			args: []string{"validate", broken},
			want: []string{"validation failed", "Missing"},
		},
		{
			name: "scenario errors",
			args: []string{"validate", "testdata/model", "-s", "testdata/bad-root.yaml"},
			want: []string{
				"scenario wrong-root: Vehicle is not a root type",
				"scenario unknown-type: edit 0 names unknown type Truck",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err == nil {
				t.Fatalf("Expected error, got output:\n%s", out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestEvalCommand_JSON(t *testing.T) {
	out, err := execute(t, "--json", "eval", "testdata/model", "-s", "testdata/scenarios.yaml")
	if err != nil {
		t.Fatalf("eval error = %v\n%s", err, out)
	}
	reports := decodeEval(t, out)
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}

	agent := reports[0]
	if agent.Name != "agent" || agent.Result.State != string(engine.StateStable) || !agent.Submittable {
		t.Errorf("agent report = %+v", agent)
	}

	oor := reports[1]
	if oor.Name != "out-of-range" {
		t.Fatalf("Expected scenario order to be kept, got %s", oor.Name)
	}
	if len(oor.Rejected) != 1 || oor.Rejected[0].Code != string(engine.ErrCodeDomainViolation) {
		t.Errorf("rejected = %+v, want one domain violation", oor.Rejected)
	}
	if oor.Result.State != string(engine.StateStable) {
		t.Errorf("a rejected edit must leave the session stable, got %s", oor.Result.State)
	}
}

func TestEvalCommand_Policies(t *testing.T) {
	args := []string{"--json", "eval", "testdata/model", "-s", "testdata/scenarios.yaml",
		"--run", "ag*", "--policy", "testdata/policies"}

	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("eval error = %v\n%s", err, out)
	}
	reports := decodeEval(t, out)
	if len(reports) != 1 || reports[0].Name != "agent" {
		t.Fatalf("Expected only the agent scenario, got %+v", reports)
	}
	if reports[0].Submittable {
		t.Error("Expected the online policy to block submission")
	}
	var names []string
	for _, v := range reports[0].Policy.Violations {
		names = append(names, v.Policy)
	}
	if diff := cmp.Diff([]string{"single-vehicle"}, names); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}

	if _, err := execute(t, append(args, "--strict")...); err == nil {
		t.Error("Expected --strict to fail on a blocked scenario")
	}
}

func TestEvalCommand_Text(t *testing.T) {
	out, err := execute(t, "eval", "testdata/model", "-s", "testdata/scenarios.yaml", "--snapshot")
	if err != nil {
		t.Fatalf("eval error = %v\n%s", err, out)
	}
	for _, want := range []string{
		"✓ agent: Stable",
		"rejected edit 0",
		"Policy Policy (seed)",
		"2 scenario(s), 0 failed, 0 not submittable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEvalCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing scenarios flag", []string{"eval", "testdata/model"}},
		{"no matching scenario", []string{"eval", "testdata/model", "-s", "testdata/scenarios.yaml", "--run", "nope"}},
		{"bad pattern", []string{"eval", "testdata/model", "-s", "testdata/scenarios.yaml", "--run", "["}},
		{"missing model", []string{"eval", "testdata/none", "-s", "testdata/scenarios.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out, err := execute(t, tt.args...); err == nil {
				t.Errorf("Expected error, got output:\n%s", out)
			}
		})
	}
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", "testdata/model")
	if err != nil {
		t.Fatalf("graph error = %v", err)
	}
	if !strings.HasPrefix(out, "digraph DependencyGraph {") {
		t.Errorf("expected DOT output, got:\n%s", out)
	}

	file := filepath.Join(t.TempDir(), "deps.dot")
	if _, err := execute(t, "graph", "testdata/model", "-o", file); err != nil {
		t.Fatalf("graph -o error = %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != out {
		t.Error("file output differs from stdout output")
	}
}

func TestFilterScenarios(t *testing.T) {
	out, err := execute(t, "--json", "eval", "testdata/model", "-s", "testdata/scenarios.yaml", "--run", "out-*")
	if err != nil {
		t.Fatalf("eval error = %v", err)
	}
	if reports := decodeEval(t, out); len(reports) != 1 || reports[0].Name != "out-of-range" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestSetupAppliesLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if _, err := execute(t, "validate", "testdata/model"); err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.ErrorLevel {
		t.Errorf("GlobalLevel() = %s, want error from cfgr.yaml", got)
	}

	if _, err := execute(t, "-v", "validate", "testdata/model"); err != nil {
		t.Fatalf("validate -v error = %v", err)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Errorf("GlobalLevel() = %s, want debug with --verbose", got)
	}
}
