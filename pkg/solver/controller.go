package solver

import (
	"context"
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
	"github.com/openfroyo/configurator/pkg/value"
)

// evaluation is the state of one run of the controller.
type evaluation struct {
	s      *Session
	g      *graph.Graph
	store  *model.Store
	ctx    context.Context
	logger *telemetry.Logger
	tel    *telemetry.Evaluation

	lookups map[string]lookup
	deps    map[read][]read
	stack   []*choice

	passes     int
	backtracks int
}

// choice is a backtracking point: either an attribute assignment or a
// speculative instantiation, tried candidate by candidate.
type choice struct {
	mark int
	inst *graph.Instance

	attribute  string
	candidates []value.Value

	relation string
	types    []string

	next int
}

func (c *choice) size() int {
	if c.relation != "" {
		return len(c.types)
	}
	return len(c.candidates)
}

func (c *choice) target() read {
	if c.relation != "" {
		return read{inst: c.inst, kind: readRelation, name: c.relation}
	}
	return read{inst: c.inst, kind: readAttribute, name: c.attribute}
}

func (c *choice) String() string {
	if c.relation != "" {
		return fmt.Sprintf("%s/%s", c.inst.Path(), c.relation)
	}
	return fmt.Sprintf("%s.%s", c.inst.Path(), c.attribute)
}

func newEvaluation(ctx context.Context, s *Session, tel *telemetry.Evaluation) *evaluation {
	return &evaluation{
		s:       s,
		g:       s.graph,
		store:   s.store,
		ctx:     ctx,
		logger:  tel.Logger,
		tel:     tel,
		lookups: make(map[string]lookup),
		deps:    make(map[read][]read),
	}
}

// run drives passes until the graph is stable or the evaluation fails.
func (e *evaluation) run() (*Result, error) {
	limits := e.s.cfg.limits
	prevDigest := ""
	havePrev := false

	for {
		if err := e.ctx.Err(); err != nil {
			return e.fail(engine.StateAborted, nil, nil, fmt.Sprintf("evaluation canceled: %v", err)), nil
		}
		if e.passes >= limits.MaxPasses {
			return e.fail(engine.StateBacktrackExhausted, e.g.Root(), nil,
				fmt.Sprintf("no fixpoint within %d passes", limits.MaxPasses)), nil
		}
		e.passes++

		version := e.g.Version()
		e.g.ClearAnnotations()
		if err := e.resolve(); err != nil {
			return nil, err
		}
		out, err := e.execute()
		if err != nil {
			return nil, err
		}

		switch {
		case out.failure != nil:
			return e.fail(engine.StateAborted, out.failure.inst, out.failure.directive, out.failure.reason), nil

		case out.violation != nil:
			v := out.violation
			text := constraintText(v.directive)
			e.tel.Violation(v.inst.Type(), v.inst.Path(), v.directive.ID, text)
			if !e.repair(v) {
				if e.backtracks > limits.MaxBacktracks {
					text = fmt.Sprintf("%s (more than %d backtracks)", text, limits.MaxBacktracks)
				}
				return e.fail(engine.StateBacktrackExhausted, v.inst, v.directive, text), nil
			}
			havePrev = false
			continue
		}

		digest := e.g.Digest()
		if e.g.Version() == version && havePrev && digest == prevDigest {
			return e.result(engine.StateStable, "", "", ""), nil
		}
		prevDigest, havePrev = digest, true
	}
}

// repair opens a new choice over an unconstrained input the violated
// constraint depends on, or revisits the latest relevant choice.
func (e *evaluation) repair(v *violation) bool {
	skip := make(map[read]bool)
	for {
		c := e.nextChoice(v, skip)
		if c == nil {
			break
		}
		c.mark = e.g.Journal().Mark()
		if e.advance(c) {
			e.stack = append(e.stack, c)
			e.logger.WithInstance(c.inst.Path()).WithDirective(v.directive.ID).Debugf("choice opened on %s", c)
			return true
		}
		e.g.Journal().Rollback(c.mark)
		skip[c.target()] = true
	}
	return e.backtrack(v.reads)
}

// backtrack reverts the most recent choice the violation depends on and
// moves it to its next candidate, unwinding exhausted choices.
func (e *evaluation) backtrack(reads []read) bool {
	relevant := make(map[read]bool, len(reads))
	for _, r := range reads {
		relevant[r] = true
	}

	for {
		idx := -1
		for i := len(e.stack) - 1; i >= 0; i-- {
			if relevant[e.stack[i].target()] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}

		c := e.stack[idx]
		e.g.Journal().Rollback(c.mark)
		e.stack = e.stack[:idx]
		e.backtracks++
		if e.backtracks > e.s.cfg.limits.MaxBacktracks {
			return false
		}
		if e.advance(c) {
			e.stack = append(e.stack, c)
			e.logger.WithInstance(c.inst.Path()).Debugf("backtracked to %s candidate %d", c, c.next)
			return true
		}
	}
}

// advance applies the next candidate of a choice.
func (e *evaluation) advance(c *choice) bool {
	for c.next < c.size() {
		i := c.next
		c.next++
		if c.relation == "" {
			e.g.Set(c.inst, c.attribute, c.candidates[i])
			return true
		}
		child, err := e.g.CreateChild(c.inst, c.relation, c.types[i], engine.SourceSpeculative)
		if err == nil && child != nil {
			return true
		}
	}
	return false
}

// nextChoice picks the first read input that is free for the engine to
// assign and not already chosen. Attribute assignments are preferred over
// speculative instantiation, which only targets relations the constraint
// reads itself.
func (e *evaluation) nextChoice(v *violation, skip map[read]bool) *choice {
	chosen := make(map[read]bool, len(e.stack)+len(skip))
	for _, c := range e.stack {
		chosen[c.target()] = true
	}
	for r := range skip {
		chosen[r] = true
	}

	for _, kind := range []readKind{readAttribute, readRelation} {
		candidates := v.reads
		if kind == readRelation {
			candidates = v.direct
		}
		for _, r := range candidates {
			if r.kind != kind || chosen[r] {
				continue
			}
			if _, attached := e.g.Get(r.inst.ID()); !attached {
				continue
			}
			var c *choice
			if kind == readAttribute {
				c = e.attributeChoice(r)
			} else {
				c = e.relationChoice(r)
			}
			if c != nil {
				return c
			}
		}
	}
	return nil
}

func (e *evaluation) attributeChoice(r read) *choice {
	a, err := e.g.Attribute(r.inst, r.name)
	if err != nil || !a.Configurable || a.IsComputed() || r.inst.Locked(a.Name) {
		return nil
	}
	limits := e.s.cfg.limits
	candidates, finite := a.Domain.Candidates(a.Kind, limits.MaxDomainCandidates)
	if !finite || len(candidates) == 0 {
		return nil
	}

	if limits.CandidateOrder == OrderDefaultFirst && !a.Default.IsNull() {
		candidates = moveTo(candidates, a.Default, true)
	}
	if current, ok := r.inst.Value(a.Name); ok && !current.IsNull() {
		candidates = moveTo(candidates, current, false)
	}
	return &choice{inst: r.inst, attribute: a.Name, candidates: candidates}
}

func (e *evaluation) relationChoice(r read) *choice {
	rel, err := e.g.Relation(r.inst, r.name)
	if err != nil || rel.CloseRelation {
		return nil
	}
	if _, blocked := r.inst.Blocked(rel.Name); blocked {
		return nil
	}
	if rel.Bounded() && r.inst.Count(rel.Name) >= rel.Max {
		return nil
	}
	types := e.store.Concretes(rel.Target)
	if len(types) == 0 {
		return nil
	}
	return &choice{inst: r.inst, relation: rel.Name, types: types}
}

// moveTo moves v to the front or the back of list, if present.
func moveTo(list []value.Value, v value.Value, front bool) []value.Value {
	out := make([]value.Value, 0, len(list))
	var hit []value.Value
	for _, c := range list {
		if c.Equal(v) {
			hit = append(hit, c)
			continue
		}
		out = append(out, c)
	}
	if front {
		return append(hit, out...)
	}
	return append(out, hit...)
}

func (e *evaluation) fail(state engine.ControllerState, inst *graph.Instance, d *model.Directive, reason string) *Result {
	if inst == nil {
		inst = e.g.Root()
	}
	id := ""
	if d != nil {
		id = d.ID
	}
	inst.AddMessage(reason, engine.SeverityError, id)
	return e.result(state, inst.Path(), id, reason)
}

func (e *evaluation) result(state engine.ControllerState, instance, directive, reason string) *Result {
	return &Result{
		SessionID:  e.s.ID(),
		State:      state,
		Passes:     e.passes,
		Backtracks: e.backtracks,
		Snapshot:   e.g.Snapshot(),
		Messages:   e.g.Messages(),
		Instance:   instance,
		Directive:  directive,
		Reason:     reason,
	}
}
