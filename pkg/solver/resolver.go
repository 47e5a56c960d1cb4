package solver

import (
	"errors"
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/telemetry"
	"github.com/openfroyo/configurator/pkg/value"
)

type lookup struct {
	v     value.Value
	found bool
	err   error
}

type faultKey struct {
	inst   *graph.Instance
	member string
}

// resolve recomputes every computed member of every instance in dependency
// order, repeating until a round changes nothing.
func (e *evaluation) resolve() error {
	order := e.store.ResolutionOrder()
	if len(order) == 0 {
		return nil
	}

	byType := make(map[string][]*graph.Instance)
	for _, inst := range e.g.Instances() {
		byType[inst.Type()] = append(byType[inst.Type()], inst)
	}

	faults := make(map[faultKey]string)
	var faultOrder []faultKey
	fault := func(k faultKey, text string) {
		if _, seen := faults[k]; !seen {
			faultOrder = append(faultOrder, k)
		}
		faults[k] = text
	}

	for round := 0; ; round++ {
		changed := false
		for _, m := range order {
			for _, inst := range byType[m.Type] {
				ch, err := e.resolveMember(inst, m, fault, func(k faultKey) { delete(faults, k) })
				if err != nil {
					return err
				}
				changed = changed || ch
			}
		}
		if !changed {
			break
		}
		if round > len(order) {
			return engine.NewInternalError("computed members did not converge", nil)
		}
	}

	for _, k := range faultOrder {
		if text, ok := faults[k]; ok {
			k.inst.AddMessage(text, engine.SeverityError, "")
		}
	}
	return nil
}

func (e *evaluation) resolveMember(inst *graph.Instance, m model.Member, fault func(faultKey, string), clear func(faultKey)) (bool, error) {
	if m.IsAggregate() {
		name := m.Relation.Name + "." + m.Aggregate.Name
		key := faultKey{inst, name}
		rec := newReadSet()
		v, err := m.Aggregate.Expr.EvaluateOver(newScope(e.g, inst, rec), m.Relation.Name)
		e.deps[read{inst: inst, kind: readAggregate, name: name}] = rec.order
		if err != nil {
			if !evalFault(err) {
				return false, err
			}
			fault(key, fmt.Sprintf("aggregate %s: %s", name, errText(err)))
			v = value.Null()
		} else {
			clear(key)
		}
		return e.g.SetAggregate(inst, m.Relation.Name, m.Aggregate.Name, v), nil
	}

	a := m.Attribute
	key := faultKey{inst, a.Name}
	var (
		v   value.Value
		err error
	)
	switch {
	case a.IsDerived():
		rec := newReadSet()
		v, err = a.Derivation.Evaluate(newScope(e.g, inst, rec))
		e.deps[read{inst: inst, kind: readAttribute, name: a.Name}] = rec.order
		if err != nil && !evalFault(err) {
			return false, err
		}
	case a.IsContextBound():
		v, err = e.contextValue(a)
	case a.IsTagBound():
		v = tagValue(inst, a)
	}

	if err == nil {
		var converted value.Value
		converted, err = v.ConvertTo(a.Kind, a.Precision)
		v = converted
	}
	if err != nil {
		fault(key, fmt.Sprintf("attribute %s: %s", a.Name, errText(err)))
		v = value.Null()
	} else {
		clear(key)
	}
	return e.g.Set(inst, a.Name, v), nil
}

// contextValue looks a context-bound attribute up once per evaluation. An
// unknown path yields the declared default.
func (e *evaluation) contextValue(a *model.Attribute) (value.Value, error) {
	path := a.ContextKey()
	l, ok := e.lookups[path]
	if !ok {
		if e.s.cfg.provider != nil {
			timer := telemetry.NewTimer()
			l.v, l.found, l.err = e.s.cfg.provider.Lookup(e.ctx, path)
			telemetry.ContextLookup(e.ctx, l.found, l.err, timer)
			if l.err != nil {
				e.logger.WithError(l.err).Warnf("context lookup %s failed", path)
			}
		}
		e.lookups[path] = l
	}
	switch {
	case l.err != nil:
		return value.Null(), fmt.Errorf("context %s unavailable: %w", path, l.err)
	case !l.found:
		return a.Default, nil
	}
	return l.v, nil
}

// tagValue reads an item-level value from the instance or its nearest
// ancestor carrying the tag.
func tagValue(inst *graph.Instance, a *model.Attribute) value.Value {
	for p := inst; p != nil; p = p.Parent() {
		if v, ok := p.ItemValue(a.TagName); ok {
			return v
		}
	}
	return a.Default
}

// evalFault reports whether an expression error is attached to the instance
// as a message rather than failing the evaluation.
func evalFault(err error) bool {
	switch engine.CodeOf(err) {
	case engine.ErrCodeTypeMismatch, engine.ErrCodeInvalidReference, engine.ErrCodeDomainViolation:
		return true
	}
	return false
}

func errText(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Err == nil {
		return ee.Message
	}
	return err.Error()
}
