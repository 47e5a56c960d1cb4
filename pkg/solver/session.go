package solver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
	"github.com/openfroyo/configurator/pkg/value"
)

// Result is the outcome of one evaluation.
type Result struct {
	SessionID  string                  `json:"sessionId"`
	State      engine.ControllerState  `json:"state"`
	Passes     int                     `json:"passes"`
	Backtracks int                     `json:"backtracks"`
	Snapshot   *graph.InstanceSnapshot `json:"snapshot"`
	Messages   []engine.Message        `json:"messages,omitempty"`

	// Instance, Directive and Reason describe a failed evaluation.
	Instance  string `json:"instance,omitempty"`
	Directive string `json:"directive,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Failed returns true if the evaluation ended in a failure state.
func (r *Result) Failed() bool {
	return r.State.IsFailure()
}

// Err returns the failure as an engine error, or nil when stable.
func (r *Result) Err() error {
	switch r.State {
	case engine.StateAborted:
		return engine.NewUnsatisfiableConstraint(r.Reason).WithInstance(r.Instance).WithSubject(r.Directive)
	case engine.StateBacktrackExhausted:
		return engine.NewBacktrackExhausted(r.Reason, nil).WithInstance(r.Instance).WithSubject(r.Directive)
	}
	return nil
}

// Errors returns the messages with Error severity.
func (r *Result) Errors() []engine.Message {
	out := make([]engine.Message, 0)
	for _, m := range r.Messages {
		if m.Severity == engine.SeverityError {
			out = append(out, m)
		}
	}
	return out
}

// Submittable returns true if the configuration is stable and carries no
// Error messages.
func (r *Result) Submittable() bool {
	return r.State == engine.StateStable && len(r.Errors()) == 0
}

// Session is one configuration session over an immutable model. A session
// is not safe for concurrent use; distinct sessions may share a Store.
type Session struct {
	id    uuid.UUID
	store *model.Store
	graph *graph.Graph
	cfg   sessionConfig

	state   engine.ControllerState
	last    *Result
	started bool
}

// NewSession creates a session whose graph holds the root instance seeded
// with mandatory children. Evaluate must run before the graph is consistent.
func NewSession(store *model.Store, opts ...Option) (*Session, error) {
	cfg := sessionConfig{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.limits.Validate(); err != nil {
		return nil, engine.NewModelError("invalid session limits", err)
	}

	root := cfg.root
	if root == "" {
		var err error
		if root, err = store.DefaultRoot(); err != nil {
			return nil, err
		}
	}

	g, err := graph.New(store, root)
	if err != nil {
		return nil, err
	}
	g.ExcludeBelowMin = cfg.limits.ExcludeBelowMin

	return &Session{
		id:    uuid.New(),
		store: store,
		graph: g,
		cfg:   cfg,
		state: engine.StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id.String() }

// Root returns the root type name.
func (s *Session) Root() string { return s.graph.Root().Type() }

// Store returns the model of the session.
func (s *Session) Store() *model.Store { return s.store }

// Graph returns the live instance graph. Callers must not mutate it.
func (s *Session) Graph() *graph.Graph { return s.graph }

// State returns the controller state of the last evaluation.
func (s *Session) State() engine.ControllerState { return s.state }

// Limits returns the session limits.
func (s *Session) Limits() Limits { return s.cfg.limits }

// Result returns the last evaluation result, or nil before the first.
func (s *Session) Result() *Result { return s.last }

// Snapshot returns an immutable copy of the instance graph.
func (s *Session) Snapshot() *graph.InstanceSnapshot { return s.graph.Snapshot() }

func (s *Session) logger(ctx context.Context) *telemetry.Logger {
	if s.cfg.logger != nil {
		return s.cfg.logger
	}
	return telemetry.FromContext(ctx)
}

// Evaluate runs the controller to a terminal state. A failed evaluation is
// reported through the Result; the error is reserved for broken invariants.
func (s *Session) Evaluate(ctx context.Context) (*Result, error) {
	return s.evaluate(ctx, (*evaluation).run)
}

// evaluate runs one evaluation. An error restores the graph and state as
// they were before it started.
func (s *Session) evaluate(ctx context.Context, run func(*evaluation) (*Result, error)) (*Result, error) {
	if !s.started {
		s.started = true
		telemetry.SessionStarted(ctx, s.ID(), s.Root())
	}
	if s.cfg.logger != nil {
		ctx = s.cfg.logger.WithContext(ctx)
	}

	ctx, tel := telemetry.StartEvaluation(ctx, s.ID(), s.Root())
	prev := s.state
	mark := s.graph.Journal().Mark()
	s.state = engine.StateEvaluating
	res, err := run(newEvaluation(ctx, s, tel))
	if err != nil {
		s.graph.Journal().Rollback(mark)
		s.state = prev
		tel.End(string(prev), true, 0, 0, "", err.Error(), err)
		return nil, err
	}

	s.state = res.State
	s.last = res
	tel.End(string(res.State), res.Failed(), res.Passes, res.Backtracks, res.Directive, res.Reason, nil)
	if res.State == engine.StateStable {
		s.graph.Journal().Truncate()
	}
	return res, nil
}

// Set assigns a user value to a configurable attribute and re-evaluates.
// Writes to computed attributes fail with ReadOnly and values outside the
// domain with DomainViolation; rejected edits leave the session unchanged.
func (s *Session) Set(ctx context.Context, path, attr string, v value.Value) (*Result, error) {
	return s.edit(ctx, path, func(inst *graph.Instance) error {
		a, err := s.graph.Attribute(inst, attr)
		if err != nil {
			return err
		}
		if a.IsComputed() {
			return engine.NewReadOnly(fmt.Sprintf("attribute %s is computed", attr)).
				WithInstance(path).WithSubject(attr)
		}
		checked, err := a.Check(v)
		if err != nil {
			if ee, ok := err.(*engine.EngineError); ok {
				return ee.WithInstance(path)
			}
			return err
		}
		s.graph.Set(inst, attr, checked)
		s.graph.SetLocked(inst, attr, true)
		return nil
	})
}

// Unset drops a user value: the attribute returns to its default and the
// engine may assign it again.
func (s *Session) Unset(ctx context.Context, path, attr string) (*Result, error) {
	return s.edit(ctx, path, func(inst *graph.Instance) error {
		a, err := s.graph.Attribute(inst, attr)
		if err != nil {
			return err
		}
		if a.IsComputed() {
			return engine.NewReadOnly(fmt.Sprintf("attribute %s is computed", attr)).
				WithInstance(path).WithSubject(attr)
		}
		s.graph.Set(inst, attr, a.Default)
		s.graph.SetLocked(inst, attr, false)
		return nil
	})
}

// AddChild creates a user instance of typeName (empty for the relation
// target) and re-evaluates. It returns the new instance path.
func (s *Session) AddChild(ctx context.Context, path, relation, typeName string) (string, *Result, error) {
	var created string
	res, err := s.edit(ctx, path, func(inst *graph.Instance) error {
		child, err := s.graph.CreateChild(inst, relation, typeName, engine.SourceUser)
		if err != nil {
			return err
		}
		created = child.Path()
		return nil
	})
	return created, res, err
}

// RemoveChild removes a user-visible instance and its subtree and
// re-evaluates. Removal below the relation minimum is rejected.
func (s *Session) RemoveChild(ctx context.Context, path string) (*Result, error) {
	return s.edit(ctx, path, func(inst *graph.Instance) error {
		return s.graph.RemoveChild(inst, false)
	})
}

// SetItemValue stores an item-level value for tag-bound attributes of the
// instance and its descendants; Null clears it.
func (s *Session) SetItemValue(ctx context.Context, path, tag string, v value.Value) (*Result, error) {
	return s.edit(ctx, path, func(inst *graph.Instance) error {
		s.graph.SetItemValue(inst, tag, v)
		return nil
	})
}

// edit applies one mutation atomically with respect to rejection, then
// re-evaluates. With RevertOnFailure a failed evaluation restores the graph
// as it was before the edit.
func (s *Session) edit(ctx context.Context, path string, apply func(*graph.Instance) error) (*Result, error) {
	journal := s.graph.Journal()
	mark := journal.Mark()

	inst, err := s.graph.MustLookup(path)
	if err == nil {
		err = apply(inst)
	}
	if err != nil {
		journal.Rollback(mark)
		telemetry.EditRejected(ctx, s.ID(), path, engine.CodeOf(err), err)
		return nil, err
	}

	res, err := s.Evaluate(ctx)
	if err != nil {
		journal.Rollback(mark)
		return nil, err
	}
	if !res.Failed() || !s.cfg.limits.RevertOnFailure {
		journal.Truncate()
		return res, nil
	}

	s.logger(ctx).WithSessionID(s.ID()).WithDirective(res.Directive).
		Infof("reverting edit on %s: %s", path, res.Reason)
	journal.Rollback(mark)
	restored, err := s.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	// The failure is what the caller asked about; the graph is restored.
	res.Snapshot = restored.Snapshot
	res.Messages = restored.Messages
	s.last = res
	return res, nil
}

// Close releases the session.
func (s *Session) Close(ctx context.Context) {
	if s.started {
		telemetry.SessionClosed(ctx)
	}
}
