package solver

import (
	"github.com/openfroyo/configurator/pkg/expr"
	"github.com/openfroyo/configurator/pkg/graph"
	"github.com/openfroyo/configurator/pkg/value"
)

type readKind uint8

const (
	readAttribute readKind = iota
	readRelation
	readAggregate
)

// read is one dynamic dependency: an attribute, a relation's child set or an
// aggregate ("rel.name") of a specific instance.
type read struct {
	inst *graph.Instance
	kind readKind
	name string
}

// readSet records reads in first-seen order.
type readSet struct {
	seen  map[read]bool
	order []read
}

func newReadSet() *readSet {
	return &readSet{seen: make(map[read]bool)}
}

func (rs *readSet) add(r read) {
	if rs == nil || rs.seen[r] {
		return
	}
	rs.seen[r] = true
	rs.order = append(rs.order, r)
}

func (rs *readSet) merge(other *readSet) {
	if other == nil {
		return
	}
	for _, r := range other.order {
		rs.add(r)
	}
}

// scope adapts an instance to expr.Scope and records what an evaluation
// reads.
type scope struct {
	g    *graph.Graph
	inst *graph.Instance
	rec  *readSet
}

var _ expr.Scope = (*scope)(nil)

func newScope(g *graph.Graph, inst *graph.Instance, rec *readSet) *scope {
	return &scope{g: g, inst: inst, rec: rec}
}

func (s *scope) Attribute(name string) (value.Value, bool) {
	et, _ := s.g.Store().Type(s.inst.Type())
	if _, ok := et.Attribute(name); !ok {
		return value.Null(), false
	}
	s.rec.add(read{inst: s.inst, kind: readAttribute, name: name})
	v, _ := s.inst.Value(name)
	return v, true
}

func (s *scope) Children(relation string) ([]expr.Scope, bool) {
	et, _ := s.g.Store().Type(s.inst.Type())
	if _, ok := et.Relation(relation); !ok {
		return nil, false
	}
	s.rec.add(read{inst: s.inst, kind: readRelation, name: relation})
	kids := s.inst.Children(relation)
	out := make([]expr.Scope, len(kids))
	for i, k := range kids {
		out[i] = newScope(s.g, k, s.rec)
	}
	return out, true
}

func (s *scope) Aggregate(relation, name string) (value.Value, bool) {
	et, _ := s.g.Store().Type(s.inst.Type())
	r, ok := et.Relation(relation)
	if !ok {
		return value.Null(), false
	}
	if _, ok := r.Aggregate(name); !ok {
		return value.Null(), false
	}
	s.rec.add(read{inst: s.inst, kind: readAggregate, name: relation + "." + name})
	v, ok := s.inst.Aggregate(relation, name)
	if !ok {
		return value.Null(), true
	}
	return v, true
}

func (s *scope) Parent() expr.Scope {
	p := s.inst.Parent()
	if p == nil {
		return nil
	}
	return newScope(s.g, p, s.rec)
}

func (s *scope) IsA(typeName string) bool {
	return s.g.Store().IsA(s.inst.Type(), typeName)
}
