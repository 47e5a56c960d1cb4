package model

import (
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/expr"
)

// resolveRefs validates every reference of e against owner and returns the
// IDs of computed members it reads. implicit is the relation of an enclosing
// aggregate definition.
func (s *Store) resolveRefs(e *expr.Expression, owner, implicit, where string) ([]string, error) {
	if e == nil {
		return nil, nil
	}

	deps := make([]string, 0)
	seen := make(map[string]bool)
	addDep := func(id string) {
		if !seen[id] {
			seen[id] = true
			deps = append(deps, id)
		}
	}

	for _, ref := range e.References() {
		fail := func(format string, args ...interface{}) error {
			return engine.NewInvalidReference(
				fmt.Sprintf("%s: %s (in %q)", ref.Range, fmt.Sprintf(format, args...), e.Source()),
			).WithType(owner).WithSubject(where)
		}

		types := []string{owner}
		var cameFrom []string
		for _, step := range ref.Steps {
			cameFrom = nil
			if step.Parent {
				next := make(map[string]bool)
				for _, t := range types {
					for _, o := range s.owners[t] {
						next[o] = true
					}
				}
				if len(next) == 0 {
					return nil, fail("parent() used in %v which no relation contains", types)
				}
				cameFrom = types
				types = sortedKeys(next)
				continue
			}

			rel := step.Relation
			if rel == expr.ImplicitRelation {
				if implicit == "" {
					return nil, fail("aggregate without relation outside an aggregate definition")
				}
				rel = implicit
			}
			next := make(map[string]bool)
			for _, t := range types {
				if r, ok := s.effective[t].Relation(rel); ok {
					for _, sub := range s.subtypes[r.Target] {
						next[sub] = true
					}
				}
			}
			if len(next) == 0 {
				return nil, fail("unknown relation %q", rel)
			}
			types = sortedKeys(next)
		}

		found := false
		switch ref.Kind {
		case expr.RefLocal:
			for _, t := range types {
				et := s.effective[t]
				if a, ok := et.Attribute(ref.Name); ok {
					found = true
					if a.IsComputed() {
						addDep(attributeNodeID(t, a.Name))
					}
				} else if _, ok := et.Relation(ref.Name); ok {
					found = true
				}
			}
			if !found {
				return nil, fail("unknown attribute or relation %q", ref.Name)
			}

		case expr.RefMember:
			for _, t := range types {
				r, ok := s.effective[t].Relation(ref.Relation)
				if !ok {
					continue
				}
				if _, ok := r.Aggregate(ref.Name); ok {
					if r.PropagateUp && s.readsFromChild(cameFrom, r) {
						return nil, fail("aggregate %s.%s propagates up and cannot be read by its children",
							ref.Relation, ref.Name)
					}
					found = true
					addDep(aggregateNodeID(t, r.Name, ref.Name))
					continue
				}
				for _, sub := range s.subtypes[r.Target] {
					if a, ok := s.effective[sub].Attribute(ref.Name); ok {
						found = true
						if a.IsComputed() {
							addDep(attributeNodeID(sub, a.Name))
						}
					}
				}
			}
			if !found {
				return nil, fail("unknown member %s.%s", ref.Relation, ref.Name)
			}

		case expr.RefTypeFilter:
			for _, t := range types {
				if _, ok := s.effective[t].Relation(ref.Relation); ok {
					found = true
				}
			}
			if !found {
				return nil, fail("unknown relation %q", ref.Relation)
			}
			if _, ok := s.effective[ref.Name]; !ok {
				return nil, fail("unknown type %q", ref.Name)
			}
		}
	}

	return deps, nil
}

// readsFromChild reports whether any of the types reached r's owner through
// r itself, i.e. a child reading its own relation's aggregate via parent().
func (s *Store) readsFromChild(children []string, r *Relation) bool {
	for _, c := range children {
		if s.IsA(c, r.Target) {
			return true
		}
	}
	return false
}
