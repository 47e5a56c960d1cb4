package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/configurator/pkg/config"
	"github.com/openfroyo/configurator/pkg/policy"
	"github.com/openfroyo/configurator/pkg/solver"
)

type evalOptions struct {
	scenarios string
	run       string
	policies  []string
	workers   int
	strict    bool
	snapshot  bool
}

// scenarioReport is the JSON shape of one evaluated scenario.
type scenarioReport struct {
	Name        string                `json:"name"`
	Result      *solver.Result        `json:"result,omitempty"`
	Rejected    []solver.RejectedEdit `json:"rejected,omitempty"`
	Policy      *policy.Result        `json:"policy,omitempty"`
	Submittable bool                  `json:"submittable"`
	Error       string                `json:"error,omitempty"`
}

func newEvalCommand(a *app) *cobra.Command {
	opts := &evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval [model-path...]",
		Short: "Run edit scripts against a model",
		Long: `Replay every scenario of an edit script in its own configuration session,
then judge each outcome with the submission policies.

Scenarios run concurrently on a bounded worker pool. Edits the engine rejects
are reported and skipped; the session continues with the next edit.`,
		Example: `  # Run all scenarios
  cfgr eval models/ -s scenarios.yaml

  # Run one scenario with extra policies and fail unless submittable
  cfgr eval models/ -s scenarios.yaml --run agent --policy policies/ --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEval(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.scenarios, "scenarios", "s", "", "edit script to replay (required)")
	cmd.Flags().StringVar(&opts.run, "run", "", "only run scenarios whose name matches this glob")
	cmd.Flags().StringSliceVar(&opts.policies, "policy", nil, "additional policy files or directories")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent scenarios (default from settings)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail when any scenario is not submittable")
	cmd.Flags().BoolVar(&opts.snapshot, "snapshot", false, "print the instance tree of each scenario")
	_ = cmd.MarkFlagRequired("scenarios")

	return cmd
}

func (a *app) runEval(cmd *cobra.Command, paths []string, opts *evalOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, _, err := a.loadModel(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	scs, err := config.NewScenarioLoader().LoadFile(ctx, opts.scenarios)
	if err != nil {
		return err
	}
	if opts.run != "" {
		scs, err = filterScenarios(scs, opts.run)
		if err != nil {
			return err
		}
	}

	limits, err := a.settings.Limits()
	if err != nil {
		return err
	}
	provider, closeProvider, err := a.settings.OpenProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to open context provider: %w", err)
	}
	defer func() { _ = closeProvider() }()

	engine, err := a.newPolicyEngine(ctx, opts.policies)
	if err != nil {
		return err
	}
	defer engine.Close()

	workers := opts.workers
	if workers <= 0 {
		workers = a.settings.Solver.Workers
	}
	solverOpts := []solver.Option{
		solver.WithLimits(limits),
		solver.WithLogger(a.tel.Logger),
	}
	if provider != nil {
		solverOpts = append(solverOpts, solver.WithProvider(provider))
	}

	results := solver.RunScenarios(ctx, store, scs, workers, solverOpts...)

	reports := make([]scenarioReport, 0, len(results))
	var failed, blocked int
	for _, r := range results {
		rep := scenarioReport{Name: r.Name, Result: r.Result, Rejected: r.Rejected}
		if r.Err != nil {
			rep.Error = r.Err.Error()
			failed++
		} else if r.Result != nil {
			pres, err := engine.Evaluate(ctx, r.Result)
			if err != nil {
				return fmt.Errorf("policy evaluation of %s: %w", r.Name, err)
			}
			rep.Policy = pres
			rep.Submittable = pres.Submittable
		}
		if !rep.Submittable {
			blocked++
		}
		reports = append(reports, rep)
	}

	if a.jsonOutput {
		if err := writeJSON(out, reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			writeScenarioReport(out, rep, opts.snapshot)
		}
		fmt.Fprintf(out, "\n%d scenario(s), %d failed, %d not submittable\n", len(reports), failed, blocked)
	}

	switch {
	case failed > 0:
		return fmt.Errorf("%d scenario(s) failed", failed)
	case opts.strict && blocked > 0:
		return fmt.Errorf("%d scenario(s) not submittable", blocked)
	}
	return nil
}

// newPolicyEngine creates a policy engine with the configured and extra
// policy paths loaded.
func (a *app) newPolicyEngine(ctx context.Context, extra []string) (*policy.Engine, error) {
	engine, err := policy.NewEngine(a.tel.Logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if !a.settings.Policy.Builtin {
		engine.DisableBuiltins()
	}
	paths := append(append([]string{}, a.settings.Policy.Paths...), extra...)
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			_ = engine.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return engine, nil
}

func filterScenarios(scs []solver.Scenario, pattern string) ([]solver.Scenario, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid --run pattern %q: %w", pattern, err)
	}
	var out []solver.Scenario
	for _, sc := range scs {
		if ok, _ := filepath.Match(pattern, sc.Name); ok {
			out = append(out, sc)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scenario matches %q", pattern)
	}
	return out, nil
}

func writeScenarioReport(w io.Writer, rep scenarioReport, snapshot bool) {
	mark := "✓"
	if !rep.Submittable {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s", mark, rep.Name)
	if rep.Error != "" {
		fmt.Fprintf(w, ": %s\n", rep.Error)
		return
	}
	res := rep.Result
	fmt.Fprintf(w, ": %s after %d pass(es), %d backtrack(s)\n", res.State, res.Passes, res.Backtracks)
	if res.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", res.Reason)
	}
	for _, rej := range rep.Rejected {
		fmt.Fprintf(w, "  rejected edit %d (%s): %s\n", rej.Index, rej.Edit, rej.Error)
	}
	writeMessages(w, "messages", res.Messages)
	if rep.Policy != nil {
		writeMessages(w, "policy", rep.Policy.Messages)
	}
	if snapshot {
		writeSnapshot(w, res.Snapshot, 1)
	}
}
