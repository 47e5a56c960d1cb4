package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "graph [path...]",
		Short: "Print the model dependency graph in DOT format",
		Long: `Print the dependency graph of computed members (derivations, aggregates
and directives) in Graphviz DOT format.`,
		Example: `  cfgr graph models/ | dot -Tsvg > deps.svg
  cfgr graph models/ -o deps.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := a.loadModel(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}
			dot := store.DOT()
			if output == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(output, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ dependency graph written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
