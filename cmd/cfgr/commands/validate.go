package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/configurator/pkg/config"
	"github.com/openfroyo/configurator/pkg/model"
)

type validateReport struct {
	Valid       bool     `json:"valid"`
	SourceFiles []string `json:"source_files,omitempty"`
	Types       []string `json:"types,omitempty"`
	Roots       []string `json:"roots,omitempty"`
	Scenarios   int      `json:"scenarios,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

func newValidateCommand(a *app) *cobra.Command {
	var scenarios string

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate model documents",
		Long: `Load model documents (YAML, CUE or HCL files and directories) and report
any document, reference or dependency error. With --scenarios the edit script
is checked against the model as well.`,
		Example: `  # Validate every model document in the current directory
  cfgr validate

  # Validate a model and the scenarios meant for it
  cfgr validate models/ --scenarios scenarios.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd, args, scenarios)
		},
	}

	cmd.Flags().StringVarP(&scenarios, "scenarios", "s", "", "edit script to check against the model")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, paths []string, scenarioFile string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	report := validateReport{Valid: true}
	store, loaded, err := a.loadModel(ctx, paths)
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.SourceFiles = loaded.SourceFiles
		report.Types = store.Types()
		report.Roots = store.Roots()
		if scenarioFile != "" {
			n, errs := checkScenarios(cmd, store, scenarioFile)
			report.Scenarios = n
			if len(errs) > 0 {
				report.Valid = false
				report.Errors = append(report.Errors, errs...)
			}
		}
	}

	if a.jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else if report.Valid {
		fmt.Fprintf(out, "✓ model is valid: %d type(s) from %d file(s)\n", len(report.Types), len(report.SourceFiles))
		fmt.Fprintf(out, "  roots: %v\n", report.Roots)
		if scenarioFile != "" {
			fmt.Fprintf(out, "  scenarios: %d\n", report.Scenarios)
		}
	} else {
		fmt.Fprintln(out, "✗ validation failed:")
		if err != nil {
			printLoadError(out, err)
		} else {
			for _, e := range report.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
		}
	}

	if !report.Valid {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// checkScenarios loads an edit script and verifies scenario roots and the
// types named by add edits.
func checkScenarios(cmd *cobra.Command, store *model.Store, path string) (int, []string) {
	scs, err := config.NewScenarioLoader().LoadFile(cmd.Context(), path)
	if err != nil {
		return 0, []string{err.Error()}
	}

	roots := make(map[string]bool)
	for _, r := range store.Roots() {
		roots[r] = true
	}
	var errs []string
	for _, sc := range scs {
		if sc.Root != "" && !roots[sc.Root] {
			errs = append(errs, fmt.Sprintf("scenario %s: %s is not a root type", sc.Name, sc.Root))
		}
		for i, e := range sc.Edits {
			if e.Type == "" {
				continue
			}
			if _, ok := store.Type(e.Type); !ok {
				errs = append(errs, fmt.Sprintf("scenario %s: edit %d names unknown type %s", sc.Name, i, e.Type))
			}
		}
	}
	sort.Strings(errs)
	return len(scs), errs
}
