package solver

import (
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
)

// violation is a failed non-abort constraint handed to backtracking.
type violation struct {
	inst      *graph.Instance
	directive *model.Directive

	// direct holds what the directive read; reads adds the inputs of the
	// computed members in direct.
	direct []read
	reads  []read
}

// failure ends an evaluation without backtracking.
type failure struct {
	inst      *graph.Instance
	directive *model.Directive
	reason    string
}

type passOutcome struct {
	violation *violation
	failure   *failure
}

// execute applies every directive of every instance once. Instances are
// visited in pre-order as of the start of the pass; exclude directives run
// before the other kinds of the same instance.
func (e *evaluation) execute() (passOutcome, error) {
	supported := make(map[*graph.Instance]bool)

	for _, inst := range e.g.Instances() {
		if _, attached := e.g.Get(inst.ID()); !attached {
			continue
		}
		directives := e.store.Directives(inst.Type())
		for _, excludes := range []bool{true, false} {
			for _, d := range directives {
				if (d.Kind == model.DirectiveExclude) != excludes {
					continue
				}
				out, err := e.apply(inst, d, supported)
				if err != nil || out.violation != nil || out.failure != nil {
					return out, err
				}
			}
		}
	}

	if e.s.cfg.limits.RetractRequired {
		e.retract(supported)
	}
	return passOutcome{}, nil
}

func (e *evaluation) apply(inst *graph.Instance, d *model.Directive, supported map[*graph.Instance]bool) (passOutcome, error) {
	rec := newReadSet()
	holds, err := d.Condition.Test(newScope(e.g, inst, rec))
	if err != nil {
		return passOutcome{}, e.directiveFault(inst, d, err)
	}

	switch d.Kind {
	case model.DirectiveRequire:
		if holds {
			e.require(inst, d, supported)
		}

	case model.DirectiveExclude:
		if holds {
			e.exclude(inst, d)
		}

	case model.DirectiveConstraint:
		if !holds {
			return passOutcome{}, nil
		}
		ok, err := d.Implication.Test(newScope(e.g, inst, rec))
		if err != nil {
			return passOutcome{}, e.directiveFault(inst, d, err)
		}
		if ok {
			return passOutcome{}, nil
		}
		if d.Abort || e.aborts(inst) {
			return passOutcome{failure: &failure{inst: inst, directive: d, reason: constraintText(d)}}, nil
		}
		return passOutcome{violation: &violation{
			inst: inst, directive: d, direct: rec.order, reads: e.expand(rec.order),
		}}, nil

	case model.DirectiveRule:
		if holds {
			if d.HasValue {
				inst.HideValue(d.Attribute, d.Value)
			} else {
				inst.Hide(d.Attribute)
			}
		}

	case model.DirectiveMessage:
		if holds {
			inst.AddMessage(d.Text, d.Severity, d.ID)
		}
	}
	return passOutcome{}, nil
}

// aborts reports whether the instance type carries the abort annotation.
func (e *evaluation) aborts(inst *graph.Instance) bool {
	v, ok := e.store.Annotation(inst.Type(), model.AnnotationAbort)
	return ok && v.Truthy()
}

func (e *evaluation) require(inst *graph.Instance, d *model.Directive, supported map[*graph.Instance]bool) {
	count := 0
	for _, child := range inst.Children(d.Relation) {
		if d.RelationType != "" && !e.store.IsA(child.Type(), d.RelationType) {
			continue
		}
		count++
		if child.CreatedBy() == d.ID {
			supported[child] = true
		}
	}
	if count > 0 {
		return
	}

	child, err := e.g.CreateChild(inst, d.Relation, d.RelationType, engine.SourceRequire)
	if err != nil {
		text := errText(err)
		if d.Text != "" {
			text = fmt.Sprintf("%s: %s", d.Text, text)
		}
		inst.AddMessage(text, engine.SeverityError, d.ID)
		return
	}
	e.g.MarkRequired(child, d.ID)
	supported[child] = true
	e.logger.WithInstance(child.Path()).WithDirective(d.ID).Debug("required instance created")
}

func (e *evaluation) exclude(inst *graph.Instance, d *model.Directive) {
	inst.Block(d.Relation, d.ID)
	for _, child := range inst.Children(d.Relation) {
		if d.RelationType != "" && !e.store.IsA(child.Type(), d.RelationType) {
			continue
		}
		if err := e.g.RemoveChild(child, true); err != nil {
			inst.AddMessage(errText(err), engine.SeverityError, d.ID)
			continue
		}
		e.logger.WithInstance(child.Path()).WithDirective(d.ID).Debug("excluded instance removed")
	}
}

// retract removes require-created instances that no require directive
// supported during the pass. Removal failures leave the instance in place.
func (e *evaluation) retract(supported map[*graph.Instance]bool) {
	for _, inst := range e.g.Instances() {
		if inst.Source() != engine.SourceRequire || inst.CreatedBy() == "" || supported[inst] {
			continue
		}
		if _, attached := e.g.Get(inst.ID()); !attached {
			continue
		}
		if err := e.g.RemoveChild(inst, false); err == nil {
			e.logger.WithInstance(inst.Path()).WithDirective(inst.CreatedBy()).Debug("required instance retracted")
		}
	}
}

// directiveFault attaches an expression error to the instance; the
// directive does not fire. Errors outside the expression domain propagate.
func (e *evaluation) directiveFault(inst *graph.Instance, d *model.Directive, err error) error {
	if !evalFault(err) {
		return err
	}
	inst.AddMessage(fmt.Sprintf("%s: %s", d.ID, errText(err)), engine.SeverityError, d.ID)
	return nil
}

func constraintText(d *model.Directive) string {
	if d.Text != "" {
		return d.Text
	}
	return fmt.Sprintf("constraint %s is not satisfied", d.ID)
}

// expand closes a read set over the recorded inputs of computed members.
func (e *evaluation) expand(reads []read) []read {
	out := newReadSet()
	queue := append([]read(nil), reads...)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if out.seen[r] {
			continue
		}
		out.add(r)
		queue = append(queue, e.deps[r]...)
	}
	return out.order
}
