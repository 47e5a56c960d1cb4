package solver

import (
	"fmt"

	"github.com/openfroyo/configurator/pkg/contextdef"
	"github.com/openfroyo/configurator/pkg/telemetry"
)

// CandidateOrder selects the order in which repair candidates are tried.
type CandidateOrder string

const (
	// OrderDomain tries domain values in declaration order.
	OrderDomain CandidateOrder = "domain"

	// OrderDefaultFirst tries the attribute default first, then the domain.
	OrderDefaultFirst CandidateOrder = "default-first"
)

// ParseCandidateOrder parses a candidate order name.
func ParseCandidateOrder(s string) (CandidateOrder, error) {
	switch CandidateOrder(s) {
	case OrderDomain, OrderDefaultFirst:
		return CandidateOrder(s), nil
	case "":
		return OrderDefaultFirst, nil
	}
	return "", fmt.Errorf("unknown candidate order %q", s)
}

// Limits are the caller-tunable bounds and policies of the controller.
type Limits struct {
	// MaxPasses bounds fixpoint passes per evaluation.
	MaxPasses int

	// MaxBacktracks bounds reverted choices per evaluation.
	MaxBacktracks int

	// MaxDomainCandidates bounds the enumeration of a repair domain.
	MaxDomainCandidates int

	// CandidateOrder orders repair candidates.
	CandidateOrder CandidateOrder

	// ExcludeBelowMin lets exclude remove children below a nonzero minimum.
	// The model must be built with the same setting.
	ExcludeBelowMin bool

	// RetractRequired removes require-created instances once no require
	// directive supports them.
	RetractRequired bool

	// RevertOnFailure rolls a failed evaluation back to the state before
	// the triggering edit.
	RevertOnFailure bool
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPasses:           64,
		MaxBacktracks:       32,
		MaxDomainCandidates: 256,
		CandidateOrder:      OrderDefaultFirst,
		ExcludeBelowMin:     false,
		RetractRequired:     true,
		RevertOnFailure:     false,
	}
}

// Validate checks the limits.
func (l Limits) Validate() error {
	if l.MaxPasses <= 0 {
		return fmt.Errorf("max passes must be positive, got %d", l.MaxPasses)
	}
	if l.MaxBacktracks < 0 {
		return fmt.Errorf("max backtracks must not be negative, got %d", l.MaxBacktracks)
	}
	if l.MaxDomainCandidates <= 0 {
		return fmt.Errorf("max domain candidates must be positive, got %d", l.MaxDomainCandidates)
	}
	if _, err := ParseCandidateOrder(string(l.CandidateOrder)); err != nil {
		return err
	}
	return nil
}

type sessionConfig struct {
	root     string
	limits   Limits
	provider contextdef.Provider
	logger   *telemetry.Logger
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithRoot selects the root type. Without it the model's only root is used.
func WithRoot(typeName string) Option {
	return func(c *sessionConfig) { c.root = typeName }
}

// WithLimits replaces the default limits.
func WithLimits(l Limits) Option {
	return func(c *sessionConfig) { c.limits = l }
}

// WithProvider sets the Context Definition provider.
func WithProvider(p contextdef.Provider) Option {
	return func(c *sessionConfig) { c.provider = p }
}

// WithLogger sets the session logger. Otherwise the logger in the
// evaluation context is used.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *sessionConfig) { c.logger = l }
}
