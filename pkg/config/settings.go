package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openfroyo/configurator/pkg/contextdef"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/solver"
	"github.com/openfroyo/configurator/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. CFGR_SOLVER_MAX_PASSES.
const EnvPrefix = "CFGR"

// Settings is the runtime configuration of cfgr.
type Settings struct {
	Solver    SolverSettings    `mapstructure:"solver"`
	Context   ContextSettings   `mapstructure:"context"`
	Policy    PolicySettings    `mapstructure:"policy"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

// SolverSettings mirror solver.Limits plus batch concurrency.
type SolverSettings struct {
	MaxPasses           int    `mapstructure:"max_passes"`
	MaxBacktracks       int    `mapstructure:"max_backtracks"`
	MaxDomainCandidates int    `mapstructure:"max_domain_candidates"`
	CandidateOrder      string `mapstructure:"candidate_order"`
	ExcludeBelowMin     bool   `mapstructure:"exclude_below_min"`
	RetractRequired     bool   `mapstructure:"retract_required"`
	RevertOnFailure     bool   `mapstructure:"revert_on_failure"`
	Workers             int    `mapstructure:"workers"`
}

// ContextSettings select the Context Definition providers. The script wins
// over the database. Inline values are not read from settings because
// viper folds key case.
type ContextSettings struct {
	Script        string        `mapstructure:"script"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
}

// PolicySettings configure submission policies.
type PolicySettings struct {
	Paths   []string `mapstructure:"paths"`
	Builtin bool     `mapstructure:"builtin"`
}

// TelemetrySettings configure logging, metrics and tracing.
type TelemetrySettings struct {
	LogLevel        string  `mapstructure:"log_level"`
	LogFormat       string  `mapstructure:"log_format"`
	MetricsEnabled  bool    `mapstructure:"metrics_enabled"`
	MetricsAddress  string  `mapstructure:"metrics_address"`
	TracingExporter string  `mapstructure:"tracing_exporter"`
	TracingEndpoint string  `mapstructure:"tracing_endpoint"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
}

func setDefaults(v *viper.Viper) {
	limits := solver.DefaultLimits()
	v.SetDefault("solver.max_passes", limits.MaxPasses)
	v.SetDefault("solver.max_backtracks", limits.MaxBacktracks)
	v.SetDefault("solver.max_domain_candidates", limits.MaxDomainCandidates)
	v.SetDefault("solver.candidate_order", string(limits.CandidateOrder))
	v.SetDefault("solver.exclude_below_min", limits.ExcludeBelowMin)
	v.SetDefault("solver.retract_required", limits.RetractRequired)
	v.SetDefault("solver.revert_on_failure", limits.RevertOnFailure)
	v.SetDefault("solver.workers", 4)
	v.SetDefault("context.script", "")
	v.SetDefault("context.script_timeout", 10*time.Second)
	v.SetDefault("context.sqlite_path", "")
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("policy.builtin", true)
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_format", "console")
	v.SetDefault("telemetry.metrics_address", ":9090")
	v.SetDefault("telemetry.tracing_exporter", "none")
	v.SetDefault("telemetry.tracing_endpoint", "")
	v.SetDefault("telemetry.metrics_enabled", false)
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

// LoadSettings reads settings from path, or from cfgr.yaml in the working
// directory or $HOME/.config/cfgr when path is empty. A missing default
// file is not an error. CFGR_* environment variables override the file.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cfgr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/cfgr")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultSettings returns the settings used without a file or environment.
func DefaultSettings() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	_ = v.Unmarshal(&s)
	return &s
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if _, err := s.Limits(); err != nil {
		return fmt.Errorf("invalid solver settings: %w", err)
	}
	if s.Solver.Workers <= 0 {
		return fmt.Errorf("invalid solver settings: workers must be positive, got %d", s.Solver.Workers)
	}
	if err := s.TelemetryConfig().Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}

// Limits converts the solver settings.
func (s *Settings) Limits() (solver.Limits, error) {
	order, err := solver.ParseCandidateOrder(s.Solver.CandidateOrder)
	if err != nil {
		return solver.Limits{}, err
	}
	l := solver.Limits{
		MaxPasses:           s.Solver.MaxPasses,
		MaxBacktracks:       s.Solver.MaxBacktracks,
		MaxDomainCandidates: s.Solver.MaxDomainCandidates,
		CandidateOrder:      order,
		ExcludeBelowMin:     s.Solver.ExcludeBelowMin,
		RetractRequired:     s.Solver.RetractRequired,
		RevertOnFailure:     s.Solver.RevertOnFailure,
	}
	return l, l.Validate()
}

// BuildOptions returns the model build options matching the solver settings.
func (s *Settings) BuildOptions() model.BuildOptions {
	return model.BuildOptions{ExcludeBelowMin: s.Solver.ExcludeBelowMin}
}

// TelemetryConfig derives the telemetry configuration.
func (s *Settings) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = s.Telemetry.LogLevel
	cfg.Logging.Format = s.Telemetry.LogFormat
	cfg.Metrics.Enabled = s.Telemetry.MetricsEnabled
	cfg.Metrics.ListenAddress = s.Telemetry.MetricsAddress
	cfg.Tracing.Exporter = s.Telemetry.TracingExporter
	cfg.Tracing.Enabled = s.Telemetry.TracingExporter != "" && s.Telemetry.TracingExporter != "none"
	cfg.Tracing.Endpoint = s.Telemetry.TracingEndpoint
	cfg.Tracing.SamplingRate = s.Telemetry.SamplingRate
	return cfg
}

// OpenProvider builds the configured provider chain. The returned close
// function releases the database, if one was opened. The provider is nil
// when no source is configured.
func (s *Settings) OpenProvider(ctx context.Context) (contextdef.Provider, func() error, error) {
	var (
		chain  contextdef.Chain
		closer = func() error { return nil }
	)
	if s.Context.Script != "" {
		p, err := contextdef.LoadStarlarkFile(ctx, s.Context.Script, s.Context.ScriptTimeout)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, p)
	}
	if s.Context.SQLitePath != "" {
		p, err := contextdef.OpenSQLite(ctx, contextdef.SQLiteConfig{Path: s.Context.SQLitePath})
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, p)
		closer = p.Close
	}

	switch len(chain) {
	case 0:
		return nil, closer, nil
	case 1:
		return chain[0], closer, nil
	}
	return chain, closer, nil
}
