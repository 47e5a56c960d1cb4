package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/configurator/pkg/config"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
)

// app carries global flags and what PersistentPreRunE sets up.
type app struct {
	configPath string
	verbose    bool
	jsonOutput bool

	version  string
	settings *config.Settings
	tel      *telemetry.Telemetry
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{version: version}

	rootCmd := &cobra.Command{
		Use:   "cfgr",
		Short: "cfgr - product configuration engine",
		Long: `cfgr evaluates product configuration models: typed attributes, relations
with cardinality, and directives (require, exclude, constraint, rule, message)
driven to a stable state by a fixpoint solver with backtracking.

Models can be written in YAML, CUE or HCL. Edit scripts replay configuration
sessions; OPA policies decide whether a result can be submitted.`,
		Version:            fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file (default: ./cfgr.yaml or ~/.config/cfgr/cfgr.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newEvalCommand(a))
	rootCmd.AddCommand(newGraphCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))

	return rootCmd
}

// setup loads settings and attaches telemetry to the command context.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	settings, err := config.LoadSettings(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		settings.Telemetry.LogLevel = "debug"
	}
	a.settings = settings
	zerolog.SetGlobalLevel(telemetry.ParseLevel(settings.Telemetry.LogLevel))

	cfg := settings.TelemetryConfig()
	cfg.ServiceVersion = a.version
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.tel = tel

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(tel.WithContext(ctx))
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.tel.Shutdown(ctx)
}

// loadModel loads model sources with the configured build options.
func (a *app) loadModel(ctx context.Context, paths []string) (*model.Store, *config.LoadReport, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return config.NewLoader(a.settings.BuildOptions()).Load(ctx, paths...)
}
