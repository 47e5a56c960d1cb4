package model

import (
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// BuildOptions tunes model validation.
type BuildOptions struct {
	// ExcludeBelowMin allows exclude directives on relations with a nonzero
	// minimum. By default such a model is rejected.
	ExcludeBelowMin bool
}

// Build flattens and validates declared types into a Store. Any error
// rejects the whole model.
func Build(types []*Type, opts BuildOptions) (*Store, error) {
	b := &builder{
		opts: opts,
		store: &Store{
			declared:  make(map[string]*Type, len(types)),
			effective: make(map[string]*EffectiveType, len(types)),
			subtypes:  make(map[string][]string),
			owners:    make(map[string][]string),
			byType:    make(map[string][]Member),
		},
	}

	steps := []func() error{
		func() error { return b.index(types) },
		b.checkInheritance,
		b.flattenAll,
		b.indexHierarchy,
		b.validateRelations,
		b.validateAttributes,
		b.validateDirectives,
		b.orderMembers,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return b.store, nil
}

type builder struct {
	opts  BuildOptions
	store *Store
	seq   int
}

func (b *builder) next() int {
	b.seq++
	return b.seq
}

// index registers declared types and assigns declaration order.
func (b *builder) index(types []*Type) error {
	for _, t := range types {
		if t == nil || t.Name == "" {
			return engine.NewModelError("type with empty name", nil)
		}
		if prev, exists := b.store.declared[t.Name]; exists {
			return engine.NewInvalidReference(
				fmt.Sprintf("type %s declared twice (%s, %s)", t.Name, prev.Source, t.Source),
			).WithType(t.Name)
		}
		b.store.declared[t.Name] = t
		b.store.names = append(b.store.names, t.Name)

		seen := make(map[string]string)
		claim := func(name, what string) error {
			if name == "" {
				return engine.NewModelError(fmt.Sprintf("%s with empty name", what), nil).WithType(t.Name)
			}
			if prev, ok := seen[name]; ok {
				return engine.NewModelError(
					fmt.Sprintf("%s %q conflicts with %s of the same name", what, name, prev), nil,
				).WithType(t.Name).WithSubject(name)
			}
			seen[name] = what
			return nil
		}

		for _, a := range t.Attributes {
			if err := claim(a.Name, "attribute"); err != nil {
				return err
			}
			a.DeclaredBy, a.order = t.Name, b.next()
		}
		for _, r := range t.Relations {
			if err := claim(r.Name, "relation"); err != nil {
				return err
			}
			if r.Min < 0 || (r.Max >= 0 && r.Max < r.Min) {
				return engine.NewModelError(
					fmt.Sprintf("invalid cardinality [%d..%d]", r.Min, r.Max), nil,
				).WithType(t.Name).WithSubject(r.Name)
			}
			aggs := make(map[string]bool)
			for _, agg := range r.Aggregates {
				if agg.Name == "" || agg.Expr == nil || aggs[agg.Name] {
					return engine.NewModelError(
						fmt.Sprintf("aggregate %q must be unique and have an expression", agg.Name), nil,
					).WithType(t.Name).WithSubject(r.Name)
				}
				aggs[agg.Name] = true
			}
			r.DeclaredBy, r.order = t.Name, b.next()
		}
		kinds := make(map[DirectiveKind]int)
		for _, d := range t.Directives {
			kinds[d.Kind]++
			if d.ID == "" {
				d.ID = fmt.Sprintf("%s.%s[%d]", t.Name, d.Kind, kinds[d.Kind]-1)
			}
			d.DeclaredBy, d.order = t.Name, b.next()
		}
	}
	return nil
}

// checkInheritance verifies parents exist and form no cycle.
func (b *builder) checkInheritance() error {
	for _, name := range b.store.names {
		t := b.store.declared[name]
		visited := map[string]bool{name: true}
		path := []string{name}
		for parent := t.Parent; parent != ""; {
			p, ok := b.store.declared[parent]
			if !ok {
				return engine.NewInvalidReference(
					fmt.Sprintf("unknown parent type %s", parent),
				).WithType(name)
			}
			path = append(path, parent)
			if visited[parent] {
				return engine.NewCyclicDependency(
					fmt.Sprintf("inheritance cycle: %v", path),
				).WithType(name).WithDetail("cycle", path)
			}
			visited[parent] = true
			parent = p.Parent
		}
	}
	return nil
}

func (b *builder) flattenAll() error {
	for _, name := range b.store.names {
		if _, err := b.flatten(name); err != nil {
			return err
		}
	}
	return nil
}

// flatten computes the effective type, flattening ancestors first.
func (b *builder) flatten(name string) (*EffectiveType, error) {
	if et, ok := b.store.effective[name]; ok {
		return et, nil
	}
	t := b.store.declared[name]

	et := &EffectiveType{
		Name:        name,
		Ancestors:   []string{name},
		Annotations: make(map[string]value.Value),
		attrs:       make(map[string]*Attribute),
		relations:   make(map[string]*Relation),
	}

	if t.Parent != "" {
		parent, err := b.flatten(t.Parent)
		if err != nil {
			return nil, err
		}
		et.Ancestors = append(et.Ancestors, parent.Ancestors...)
		for k, v := range parent.Annotations {
			et.Annotations[k] = v
		}
		delete(et.Annotations, AnnotationAbstract)
		et.Attributes = append(et.Attributes, parent.Attributes...)
		et.Relations = append(et.Relations, parent.Relations...)
		et.Directives = append(et.Directives, parent.Directives...)
		for k, v := range parent.attrs {
			et.attrs[k] = v
		}
		for k, v := range parent.relations {
			et.relations[k] = v
		}
	}

	for k, v := range t.Annotations {
		et.Annotations[k] = v
	}

	for _, a := range t.Attributes {
		if _, clash := et.relations[a.Name]; clash {
			return nil, redeclared(name, a.Name, "relation", "attribute")
		}
		if prev, ok := et.attrs[a.Name]; ok {
			if prev.Kind != a.Kind {
				return nil, redeclared(name, a.Name, prev.Kind.String(), a.Kind.String()).
					WithDetail("declared_by", prev.DeclaredBy)
			}
			replaceAttribute(et.Attributes, a)
		} else {
			et.Attributes = append(et.Attributes, a)
		}
		et.attrs[a.Name] = a
	}

	for _, r := range t.Relations {
		if _, clash := et.attrs[r.Name]; clash {
			return nil, redeclared(name, r.Name, "attribute", "relation")
		}
		if prev, ok := et.relations[r.Name]; ok {
			// The redeclared target must stay within the inherited one; the
			// check runs in validateRelations once all ancestors are known.
			r.order = prev.order
			replaceRelation(et.Relations, r)
		} else {
			et.Relations = append(et.Relations, r)
		}
		et.relations[r.Name] = r
	}

	et.Directives = append(et.Directives, t.Directives...)

	if v, ok := et.Annotations[AnnotationAbort]; ok && v.Truthy() {
		for i, d := range et.Directives {
			if d.Kind == DirectiveConstraint && !d.Abort {
				clone := *d
				clone.Abort = true
				et.Directives[i] = &clone
			}
		}
	}

	b.store.effective[name] = et
	return et, nil
}

func redeclared(typeName, member, was, now string) *engine.EngineError {
	return engine.NewModelError(
		fmt.Sprintf("%s redeclares inherited %s %q as %s", typeName, was, member, now), nil,
	).WithType(typeName).WithSubject(member)
}

func replaceAttribute(list []*Attribute, a *Attribute) {
	for i := range list {
		if list[i].Name == a.Name {
			list[i] = a
			return
		}
	}
}

func replaceRelation(list []*Relation, r *Relation) {
	for i := range list {
		if list[i].Name == r.Name {
			list[i] = r
			return
		}
	}
}

// indexHierarchy fills subtype lists.
func (b *builder) indexHierarchy() error {
	for _, name := range b.store.names {
		for _, ancestor := range b.store.effective[name].Ancestors {
			b.store.subtypes[ancestor] = append(b.store.subtypes[ancestor], name)
		}
	}
	return nil
}

// validateRelations checks targets, applies split caps and computes owners.
func (b *builder) validateRelations() error {
	owners := make(map[string]map[string]bool)

	for _, name := range b.store.names {
		et := b.store.effective[name]
		for i, r := range et.Relations {
			if _, ok := b.store.effective[r.Target]; !ok {
				return engine.NewInvalidReference(
					fmt.Sprintf("relation %s targets unknown type %s", r.Name, r.Target),
				).WithType(name).WithSubject(r.Name)
			}
			if r.DeclaredBy == name {
				if inherited := b.inheritedRelation(name, r.Name); inherited != nil &&
					!b.store.IsA(r.Target, inherited.Target) {
					return redeclared(name, r.Name, "relation to "+inherited.Target, "relation to "+r.Target)
				}
			}
			if len(b.store.Concretes(r.Target)) == 0 {
				return engine.NewInvalidReference(
					fmt.Sprintf("relation %s targets %s which has no concrete type", r.Name, r.Target),
				).WithType(name).WithSubject(r.Name)
			}

			if capped := b.splitCapped(r); capped != nil {
				et.Relations[i] = capped
				et.relations[r.Name] = capped
				r = capped
			}

			for _, sub := range b.store.subtypes[r.Target] {
				if owners[sub] == nil {
					owners[sub] = make(map[string]bool)
				}
				owners[sub][name] = true
			}
		}
	}

	for sub, set := range owners {
		b.store.owners[sub] = sortedKeys(set)
	}
	return nil
}

// inheritedRelation returns the relation of the same name declared by the
// nearest ancestor of typeName other than the redeclaring type.
func (b *builder) inheritedRelation(typeName, relName string) *Relation {
	t := b.store.declared[typeName]
	if t.Parent == "" {
		return nil
	}
	r, _ := b.store.effective[t.Parent].Relation(relName)
	return r
}

// splitCapped returns a copy of r capped at one instance when the relation
// or its target is annotated split=false, or nil when no cap applies.
func (b *builder) splitCapped(r *Relation) *Relation {
	split := true
	if r.Split != nil {
		split = *r.Split
	} else if v, ok := b.store.effective[r.Target].Annotations[AnnotationSplit]; ok && !v.IsNull() {
		split = v.Truthy()
	}
	if split || (r.Max >= 0 && r.Max <= 1) {
		return nil
	}
	capped := *r
	capped.Max = 1
	if capped.Min > 1 {
		capped.Min = 1
	}
	return &capped
}

// validateAttributes normalizes domains and defaults to the attribute kind.
func (b *builder) validateAttributes() error {
	for _, name := range b.store.names {
		t := b.store.declared[name]
		for _, a := range t.Attributes {
			if err := normalizeAttribute(a); err != nil {
				if e, ok := err.(*engine.EngineError); ok {
					return e.WithType(name)
				}
				return err
			}
		}
	}
	return nil
}

func normalizeAttribute(a *Attribute) error {
	if a.IsDerived() && (a.IsContextBound() || a.IsTagBound()) {
		return engine.NewModelError("attribute cannot be both derived and bound", nil).WithSubject(a.Name)
	}
	if a.IsContextBound() && a.IsTagBound() {
		return engine.NewModelError("attribute cannot have both a context binding and a tag", nil).
			WithSubject(a.Name)
	}

	convert := func(v value.Value, what string) (value.Value, error) {
		out, err := v.ConvertTo(a.Kind, a.Precision)
		if err != nil {
			return value.Null(), engine.NewModelError(fmt.Sprintf("invalid %s: %v", what, err), nil).
				WithSubject(a.Name)
		}
		return out, nil
	}

	var err error
	for i, v := range a.Domain.Values {
		if a.Domain.Values[i], err = convert(v, "domain value"); err != nil {
			return err
		}
	}
	if a.Domain.IsRange() && !a.Kind.IsNumeric() {
		return engine.NewModelError("range domain on non-numeric attribute", nil).WithSubject(a.Name)
	}
	if a.Domain.Min, err = convert(a.Domain.Min, "range minimum"); err != nil {
		return err
	}
	if a.Domain.Max, err = convert(a.Domain.Max, "range maximum"); err != nil {
		return err
	}
	if a.Default, err = convert(a.Default, "default"); err != nil {
		return err
	}
	if !a.Domain.Contains(a.Default) {
		return engine.NewModelError(
			fmt.Sprintf("default %s is outside domain %s", a.Default.GoString(), a.Domain), nil,
		).WithSubject(a.Name)
	}
	return nil
}

// validateDirectives checks directive shapes and all expression references.
func (b *builder) validateDirectives() error {
	for _, name := range b.store.names {
		et := b.store.effective[name]

		for _, a := range et.Attributes {
			if a.IsDerived() {
				if _, err := b.store.resolveRefs(a.Derivation, name, "", name+"."+a.Name); err != nil {
					return err
				}
			}
		}
		for _, r := range et.Relations {
			for _, agg := range r.Aggregates {
				if _, err := b.store.resolveRefs(agg.Expr, name, r.Name, name+"."+r.Name+"."+agg.Name); err != nil {
					return err
				}
			}
		}
		for _, d := range et.Directives {
			if err := b.validateDirective(et, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) validateDirective(et *EffectiveType, d *Directive) error {
	fail := func(format string, args ...interface{}) error {
		return engine.NewInvalidReference(fmt.Sprintf(format, args...)).
			WithType(et.Name).WithSubject(d.ID)
	}

	if d.Condition != nil {
		if _, err := b.store.resolveRefs(d.Condition, et.Name, "", d.ID); err != nil {
			return err
		}
	}

	switch d.Kind {
	case DirectiveRequire, DirectiveExclude:
		r, ok := et.Relation(d.Relation)
		if !ok {
			return fail("%s references unknown relation %q", d.Kind, d.Relation)
		}
		if d.RelationType != "" {
			if !b.store.IsA(d.RelationType, r.Target) {
				return fail("%s type %s is not a %s", d.Kind, d.RelationType, r.Target)
			}
			if d.Kind == DirectiveRequire && len(b.store.Concretes(d.RelationType)) == 0 {
				return fail("require type %s has no concrete type", d.RelationType)
			}
		}
		if d.Kind == DirectiveExclude && r.Min > 0 && !b.opts.ExcludeBelowMin {
			return fail("exclude on relation %s with minimum %d; declare min=0", r.Name, r.Min)
		}

	case DirectiveConstraint:
		if d.Implication == nil {
			return fail("constraint without implication")
		}
		if _, err := b.store.resolveRefs(d.Implication, et.Name, "", d.ID); err != nil {
			return err
		}

	case DirectiveRule:
		if d.Action != ActionHide {
			return fail("unsupported rule action %q", d.Action)
		}
		a, ok := et.Attribute(d.Attribute)
		if !ok {
			return fail("rule hides unknown attribute %q", d.Attribute)
		}
		if d.HasValue {
			v, err := d.Value.ConvertTo(a.Kind, a.Precision)
			if err != nil {
				return fail("rule value for %s: %v", a.Name, err)
			}
			d.Value = v
		}

	case DirectiveMessage:
		if d.Text == "" {
			return fail("message without text")
		}
		if d.Severity == "" {
			d.Severity = engine.SeverityWarning
		}
		if d.Severity != engine.SeverityWarning && d.Severity != engine.SeverityError {
			return fail("unknown severity %q", d.Severity)
		}

	default:
		return engine.NewModelError(fmt.Sprintf("unknown directive kind %q", d.Kind), nil).
			WithType(et.Name).WithSubject(d.ID)
	}
	return nil
}

// orderMembers builds the dependency DAG of computed members.
func (b *builder) orderMembers() error {
	members := make(map[string]Member)
	nodes := make([]engine.DependencyNode, 0)

	for _, name := range b.store.names {
		et := b.store.effective[name]
		for _, a := range et.Attributes {
			if !a.IsComputed() {
				continue
			}
			id := attributeNodeID(name, a.Name)
			deps, err := b.store.resolveRefs(a.Derivation, name, "", id)
			if err != nil {
				return err
			}
			members[id] = Member{ID: id, Type: name, Attribute: a}
			nodes = append(nodes, engine.DependencyNode{
				ID: id, Type: name, Member: a.Name,
				Sequence: a.Sequence, Order: a.order, Dependencies: deps,
			})
		}
		for _, r := range et.Relations {
			for _, agg := range r.Aggregates {
				id := aggregateNodeID(name, r.Name, agg.Name)
				deps, err := b.store.resolveRefs(agg.Expr, name, r.Name, id)
				if err != nil {
					return err
				}
				seq := agg.Sequence
				if seq == 0 {
					seq = r.Sequence
				}
				members[id] = Member{ID: id, Type: name, Relation: r, Aggregate: agg}
				nodes = append(nodes, engine.DependencyNode{
					ID: id, Type: name, Member: agg.Name, Relation: r.Name,
					Sequence: seq, Order: r.order, Dependencies: deps,
				})
			}
		}
	}

	dag := engine.NewDAGBuilder()
	graph, err := dag.BuildGraph(nodes)
	if err != nil {
		return err
	}

	b.store.dag = dag
	b.store.graph = graph
	for _, id := range graph.Order {
		m := members[id]
		b.store.order = append(b.store.order, m)
		b.store.byType[m.Type] = append(b.store.byType[m.Type], m)
	}
	return nil
}

func attributeNodeID(typeName, attr string) string {
	return typeName + "." + attr
}

func aggregateNodeID(typeName, rel, agg string) string {
	return typeName + "." + rel + "." + agg
}
