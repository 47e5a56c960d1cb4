package model

import (
	"fmt"
	"sort"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// EffectiveType is a type with inherited members flattened in.
type EffectiveType struct {
	Name string

	// Ancestors lists the type and its ancestors, nearest first.
	Ancestors []string

	Annotations map[string]value.Value
	Attributes  []*Attribute
	Relations   []*Relation
	Directives  []*Directive

	attrs     map[string]*Attribute
	relations map[string]*Relation
}

// Attribute returns the named effective attribute.
func (t *EffectiveType) Attribute(name string) (*Attribute, bool) {
	a, ok := t.attrs[name]
	return a, ok
}

// Relation returns the named effective relation.
func (t *EffectiveType) Relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// Abstract returns true if the type may not be instantiated.
func (t *EffectiveType) Abstract() bool {
	v, ok := t.Annotations[AnnotationAbstract]
	return ok && v.Truthy()
}

// Member is a computed member in resolution order: a derived or bound
// attribute, or a relation aggregate.
type Member struct {
	ID        string
	Type      string
	Attribute *Attribute
	Relation  *Relation
	Aggregate *Aggregate
}

// IsAggregate returns true for aggregate members.
func (m Member) IsAggregate() bool { return m.Aggregate != nil }

// Store is the immutable, flattened model.
type Store struct {
	declared  map[string]*Type
	effective map[string]*EffectiveType
	names     []string
	subtypes  map[string][]string
	owners    map[string][]string
	order     []Member
	byType    map[string][]Member
	graph     *engine.DependencyGraph
	dag       *engine.DAGBuilder
}

// Types returns all type names in declaration order.
func (s *Store) Types() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Type returns the effective definition of a type.
func (s *Store) Type(name string) (*EffectiveType, bool) {
	t, ok := s.effective[name]
	return t, ok
}

// Declared returns the type as declared, without inherited members.
func (s *Store) Declared(name string) (*Type, bool) {
	t, ok := s.declared[name]
	return t, ok
}

// Attributes returns the effective attributes of a type.
func (s *Store) Attributes(typeName string) []*Attribute {
	if t, ok := s.effective[typeName]; ok {
		return t.Attributes
	}
	return nil
}

// Relations returns the effective relations of a type.
func (s *Store) Relations(typeName string) []*Relation {
	if t, ok := s.effective[typeName]; ok {
		return t.Relations
	}
	return nil
}

// Directives returns the effective directives of a type in declaration order,
// inherited ones first.
func (s *Store) Directives(typeName string) []*Directive {
	if t, ok := s.effective[typeName]; ok {
		return t.Directives
	}
	return nil
}

// Annotation returns an annotation value, looking through ancestors.
func (s *Store) Annotation(typeName, key string) (value.Value, bool) {
	t, ok := s.effective[typeName]
	if !ok {
		return value.Null(), false
	}
	v, ok := t.Annotations[key]
	return v, ok
}

// IsA reports whether typeName is ancestor or derives from it.
func (s *Store) IsA(typeName, ancestor string) bool {
	t, ok := s.effective[typeName]
	if !ok {
		return false
	}
	for _, a := range t.Ancestors {
		if a == ancestor {
			return true
		}
	}
	return false
}

// Subtypes returns the type and all types deriving from it, in declaration
// order.
func (s *Store) Subtypes(typeName string) []string {
	return s.subtypes[typeName]
}

// Concretes returns the instantiable types assignable to typeName.
func (s *Store) Concretes(typeName string) []string {
	out := make([]string, 0)
	for _, name := range s.subtypes[typeName] {
		if !s.effective[name].Abstract() {
			out = append(out, name)
		}
	}
	return out
}

// Owners returns the types with a relation whose children may be of typeName.
func (s *Store) Owners(typeName string) []string {
	return s.owners[typeName]
}

// Roots returns the concrete types that no relation can contain.
func (s *Store) Roots() []string {
	out := make([]string, 0)
	for _, name := range s.names {
		if len(s.owners[name]) == 0 && !s.effective[name].Abstract() && len(s.subtypes[name]) == 1 {
			out = append(out, name)
		}
	}
	return out
}

// DefaultRoot returns the only root type, or an error when the model has
// none or several.
func (s *Store) DefaultRoot() (string, error) {
	roots := s.Roots()
	if len(roots) != 1 {
		return "", engine.NewInvalidReference(
			fmt.Sprintf("model has %d candidate root types %v; choose one explicitly", len(roots), roots))
	}
	return roots[0], nil
}

// Computed returns the computed members of a type in resolution order.
func (s *Store) Computed(typeName string) []Member {
	return s.byType[typeName]
}

// ResolutionOrder returns every computed member across all types in
// dependency order.
func (s *Store) ResolutionOrder() []Member {
	out := make([]Member, len(s.order))
	copy(out, s.order)
	return out
}

// DependencyGraph returns the dependency graph of computed members.
func (s *Store) DependencyGraph() *engine.DependencyGraph {
	return s.graph
}

// DOT renders the dependency graph for Graphviz.
func (s *Store) DOT() string {
	return s.dag.ToDOT()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
