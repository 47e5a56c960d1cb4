package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/solver"
	"github.com/openfroyo/configurator/pkg/telemetry"
)

// Engine evaluates submission policies against session results.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	loader   *Loader
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	e.loader = NewLoader(logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// Evaluate runs every enabled policy against a session result. Each deny
// entry becomes a message; the result is submittable when none of them has
// Error severity.
func (e *Engine) Evaluate(ctx context.Context, res *solver.Result) (*Result, error) {
	if res == nil {
		return nil, engine.NewInternalError("policy evaluation needs a result", nil)
	}
	ic := telemetry.StartOperation(ctx, "policy.evaluate",
		telemetry.AttrSessionID.String(res.SessionID),
		telemetry.AttrState.String(string(res.State)),
	)
	out, err := e.evaluate(ic.Ctx, res)
	ic.End(err)
	if err != nil {
		return nil, err
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		for _, v := range out.Violations {
			_ = tel.Events.PublishPolicyViolation(res.SessionID, v.Policy, v.Message)
		}
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, res *solver.Result) (*Result, error) {
	start := time.Now()
	input, err := inputDocument(&Input{
		SessionID: res.SessionID,
		State:     res.State,
		Snapshot:  res.Snapshot,
		Messages:  res.Messages,
		Timestamp: start,
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Result{Submittable: true, EvaluatedAt: start}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		out.EvaluatedPolicies = append(out.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			return nil, engine.NewInternalError(fmt.Sprintf("policy %s evaluation failed", name), err).
				WithSubject(name)
		}
		for _, v := range violations {
			if v.Severity == engine.SeverityError {
				out.Submittable = false
			}
			out.Violations = append(out.Violations, v)
			out.Messages = append(out.Messages, v.AsMessage())
		}
	}
	out.Duration = time.Since(start)

	e.logger.Debug().
		Str("session_id", res.SessionID).
		Int("violations", len(out.Violations)).
		Bool("submittable", out.Submittable).
		Dur("duration", out.Duration).
		Msg("Policy evaluation completed")
	return out, nil
}

// inputDocument converts the input to plain JSON data. Numbers stay
// json.Number so decimals keep their digits.
func inputDocument(in *Input) (interface{}, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, engine.NewInternalError("failed to encode policy input", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, engine.NewInternalError("failed to decode policy input", err)
	}
	return doc, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	// Sets come back in term order; sort for stable output.
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Instance != violations[j].Instance {
			return violations[i].Instance < violations[j].Instance
		}
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation builds a Violation from one deny entry. Entries are
// strings or objects with message, severity and instance keys.
func createViolation(policy *Policy, entry interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		} else if msg, ok := d["msg"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			if parsed, err := engine.ParseSeverity(sev); err == nil {
				v.Severity = parsed
			}
		}
		if inst, ok := d["instance"].(string); ok {
			v.Instance = inst
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	if v.Message == "" {
		v.Message = fmt.Sprintf("denied by policy %s", policy.Name)
	}
	return v
}

// LoadPolicies reads policy files and directories, replacing previously
// loaded non-builtin policies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.replaceLoaded(ctx, policies)
}

// Watch reloads policies whenever a watched .rego file changes. It returns
// once watching has started; watching stops when ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.replaceLoaded(ctx, policies)
	})
}

// replaceLoaded compiles policies and swaps them in. Nothing changes when
// any policy fails to compile.
func (e *Engine) replaceLoaded(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := &policies[i]
		if _, dup := compiled[p.Name]; dup {
			return engine.NewModelError(fmt.Sprintf("duplicate policy name %s", p.Name), nil).WithSubject(p.Name)
		}
		cp, err := compilePolicy(ctx, p)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			return engine.NewModelError(fmt.Sprintf("policy %s shadows a built-in policy", name), nil).WithSubject(name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// compilePolicy parses a policy module and prepares its deny query.
func compilePolicy(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModuleWithOpts(policy.Name, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtin := GetBuiltinPolicies()
	for i := range builtin {
		cp, err := compilePolicy(ctx, &builtin[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtin[i].Name, err)
		}
		e.policies[builtin[i].Name] = cp
	}

	e.logger.Debug().
		Int("count", len(builtin)).
		Msg("Built-in policies loaded")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

// DisableBuiltins disables every built-in policy.
func (e *Engine) DisableBuiltins() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range e.policies {
		if cp.policy.Builtin {
			cp.policy.Enabled = false
		}
	}
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	e.logger.Info().Str("policy", name).Msg("Policy " + state)
	return nil
}

// Close stops watching policy files.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}
