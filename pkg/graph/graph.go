// Package graph implements the per-session instance graph and relation
// manager. It enforces relation cardinality, the closeRelation policy and
// exclusion blocks, and journals every change so the solver can backtrack.
package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/value"
)

// maxSeedDepth bounds recursive seeding of mandatory relations.
const maxSeedDepth = 64

// Graph is the instance tree of one configuration session. It is not safe
// for concurrent use.
type Graph struct {
	store   *model.Store
	root    *Instance
	byID    map[uuid.UUID]*Instance
	byPath  map[string]*Instance
	journal *Journal

	// ExcludeBelowMin lets forced removals drop below a nonzero minimum.
	ExcludeBelowMin bool
}

// New creates a graph with a root instance of rootType, seeded with mandatory
// children at minimum cardinality.
func New(store *model.Store, rootType string) (*Graph, error) {
	et, ok := store.Type(rootType)
	if !ok {
		return nil, engine.NewNotFound(fmt.Sprintf("unknown root type %s", rootType)).WithType(rootType)
	}
	if et.Abstract() {
		return nil, engine.NewDomainViolation(fmt.Sprintf("root type %s is abstract", rootType)).WithType(rootType)
	}

	g := &Graph{
		store:   store,
		byID:    make(map[uuid.UUID]*Instance),
		byPath:  make(map[string]*Instance),
		journal: &Journal{},
	}

	root := newInstance(rootType, rootType, nil, "", engine.SourceSeed)
	g.initBindings(root)
	g.index(root)
	g.root = root
	if err := g.seed(root, 0); err != nil {
		return nil, err
	}
	g.journal.Truncate()
	return g, nil
}

// Store returns the model the graph instantiates.
func (g *Graph) Store() *model.Store { return g.store }

// Root returns the root instance.
func (g *Graph) Root() *Instance { return g.root }

// Journal returns the undo log.
func (g *Graph) Journal() *Journal { return g.journal }

// Version returns the journal version; it changes on every mutation.
func (g *Graph) Version() uint64 { return g.journal.Version() }

// Get returns an instance by identity.
func (g *Graph) Get(id uuid.UUID) (*Instance, bool) {
	i, ok := g.byID[id]
	return i, ok
}

// Lookup returns an instance by path.
func (g *Graph) Lookup(path string) (*Instance, bool) {
	i, ok := g.byPath[path]
	return i, ok
}

// MustLookup returns an instance by path or a NotFound error.
func (g *Graph) MustLookup(path string) (*Instance, error) {
	if i, ok := g.byPath[path]; ok {
		return i, nil
	}
	return nil, engine.NewNotFound(fmt.Sprintf("no instance at %s", path)).WithInstance(path)
}

// Walk visits instances in pre-order, relations in declaration order.
func (g *Graph) Walk(fn func(*Instance) error) error {
	return g.walk(g.root, fn)
}

func (g *Graph) walk(i *Instance, fn func(*Instance) error) error {
	if err := fn(i); err != nil {
		return err
	}
	for _, r := range g.store.Relations(i.typeName) {
		for _, child := range i.Children(r.Name) {
			if err := g.walk(child, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Instances returns all instances in pre-order.
func (g *Graph) Instances() []*Instance {
	out := make([]*Instance, 0, len(g.byID))
	_ = g.Walk(func(i *Instance) error {
		out = append(out, i)
		return nil
	})
	return out
}

// Relation returns the effective relation definition of an instance.
func (g *Graph) Relation(i *Instance, relation string) (*model.Relation, error) {
	et, _ := g.store.Type(i.typeName)
	r, ok := et.Relation(relation)
	if !ok {
		return nil, engine.NewNotFound(fmt.Sprintf("type %s has no relation %s", i.typeName, relation)).
			WithInstance(i.path).WithSubject(relation)
	}
	return r, nil
}

// Attribute returns the effective attribute definition of an instance.
func (g *Graph) Attribute(i *Instance, attr string) (*model.Attribute, error) {
	et, _ := g.store.Type(i.typeName)
	a, ok := et.Attribute(attr)
	if !ok {
		return nil, engine.NewNotFound(fmt.Sprintf("type %s has no attribute %s", i.typeName, attr)).
			WithInstance(i.path).WithSubject(attr)
	}
	return a, nil
}

// CreateChild creates a child of typeName in a relation of parent. An empty
// typeName selects the relation target, or its first concrete subtype.
//
// Creation fails with CardinalityViolation when the relation is at its
// maximum or excluded. Engine-initiated creation (speculative, derivation)
// on a closeRelation relation is refused silently: the result is nil, nil.
func (g *Graph) CreateChild(parent *Instance, relation, typeName string, source engine.CreationSource) (*Instance, error) {
	r, err := g.Relation(parent, relation)
	if err != nil {
		return nil, err
	}

	if typeName == "" {
		concretes := g.store.Concretes(r.Target)
		if len(concretes) == 0 {
			return nil, engine.NewDomainViolation(fmt.Sprintf("relation %s has no concrete target", relation)).
				WithInstance(parent.path).WithSubject(relation)
		}
		typeName = concretes[0]
	}
	et, ok := g.store.Type(typeName)
	if !ok || !g.store.IsA(typeName, r.Target) || et.Abstract() {
		return nil, engine.NewDomainViolation(
			fmt.Sprintf("type %s cannot be created in relation %s of %s", typeName, relation, r.Target),
		).WithInstance(parent.path).WithSubject(relation)
	}

	if r.CloseRelation && source.EngineInitiated() {
		return nil, nil
	}
	if directive, blocked := parent.blocked[relation]; blocked && source != engine.SourceSeed {
		return nil, engine.NewCardinalityViolation(
			fmt.Sprintf("relation %s is excluded by %s", relation, directive),
		).WithInstance(parent.path).WithSubject(relation).WithDetail("excluded", directive)
	}
	if r.Bounded() && parent.Count(relation) >= r.Max {
		return nil, engine.NewCardinalityViolation(
			fmt.Sprintf("relation %s is at its maximum of %d", relation, r.Max),
		).WithInstance(parent.path).WithSubject(relation)
	}

	child := g.attach(parent, relation, typeName, source)
	if err := g.seed(child, depth(child)); err != nil {
		return nil, err
	}
	return child, nil
}

// MarkRequired records the require directive that created an instance.
func (g *Graph) MarkRequired(i *Instance, directive string) {
	prev := i.createdBy
	i.createdBy = directive
	g.journal.record(func() { i.createdBy = prev })
}

// RemoveChild detaches a child and its subtree. Removal below the relation
// minimum fails with CardinalityViolation unless force is set and the
// relation minimum is zero or ExcludeBelowMin is enabled.
func (g *Graph) RemoveChild(child *Instance, force bool) error {
	parent := child.parent
	if parent == nil {
		return engine.NewCardinalityViolation("cannot remove the root instance").WithInstance(child.path)
	}
	r, err := g.Relation(parent, child.relation)
	if err != nil {
		return err
	}
	if parent.Count(child.relation)-1 < r.Min && !(force && g.ExcludeBelowMin) {
		return engine.NewCardinalityViolation(
			fmt.Sprintf("relation %s cannot drop below its minimum of %d", child.relation, r.Min),
		).WithInstance(parent.path).WithSubject(child.relation)
	}

	g.detach(child)
	return nil
}

// Set binds an attribute value without domain checks; callers validate.
// It reports whether the binding changed.
func (g *Graph) Set(i *Instance, attr string, v value.Value) bool {
	prev, had := i.bindings[attr]
	if had && prev.Identical(v) {
		return false
	}
	i.bindings[attr] = v
	g.journal.record(func() {
		if had {
			i.bindings[attr] = prev
		} else {
			delete(i.bindings, attr)
		}
	})
	return true
}

// SetAggregate stores a resolved aggregate value and reports whether it changed.
func (g *Graph) SetAggregate(i *Instance, relation, name string, v value.Value) bool {
	key := relation + "." + name
	prev, had := i.aggregates[key]
	if had && prev.Identical(v) {
		return false
	}
	i.aggregates[key] = v
	g.journal.record(func() {
		if had {
			i.aggregates[key] = prev
		} else {
			delete(i.aggregates, key)
		}
	})
	return true
}

// SetLocked marks an attribute as user-assigned.
func (g *Graph) SetLocked(i *Instance, attr string, locked bool) {
	prev := i.locked[attr]
	if prev == locked {
		return
	}
	setFlag(i.locked, attr, locked)
	g.journal.record(func() { setFlag(i.locked, attr, prev) })
}

func setFlag(m map[string]bool, key string, on bool) {
	if on {
		m[key] = true
	} else {
		delete(m, key)
	}
}

// SetItemValue stores an item-level value; Null removes it.
func (g *Graph) SetItemValue(i *Instance, tag string, v value.Value) bool {
	prev, had := i.items[tag]
	if v.IsNull() {
		if !had {
			return false
		}
		delete(i.items, tag)
	} else {
		if had && prev.Identical(v) {
			return false
		}
		i.items[tag] = v
	}
	g.journal.record(func() {
		if had {
			i.items[tag] = prev
		} else {
			delete(i.items, tag)
		}
	})
	return true
}

// ClearAnnotations resets visibility, messages and exclusion blocks on every
// instance before a pass recomputes them.
func (g *Graph) ClearAnnotations() {
	for _, i := range g.byID {
		i.clearAnnotations()
	}
}

// Messages returns all messages in pre-order.
func (g *Graph) Messages() []engine.Message {
	out := make([]engine.Message, 0)
	for _, i := range g.Instances() {
		out = append(out, i.messages...)
	}
	return out
}

func depth(i *Instance) int {
	d := 0
	for p := i.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// attach creates and links a child, journaling the change.
func (g *Graph) attach(parent *Instance, relation, typeName string, source engine.CreationSource) *Instance {
	n := parent.nextIndex[relation]
	parent.nextIndex[relation] = n + 1
	path := fmt.Sprintf("%s/%s[%d]", parent.path, relation, n)

	child := newInstance(typeName, path, parent, relation, source)
	g.initBindings(child)
	parent.children[relation] = append(parent.children[relation], child)
	g.index(child)

	g.journal.record(func() {
		kids := parent.children[relation]
		parent.children[relation] = kids[:len(kids)-1]
		parent.nextIndex[relation] = n
		g.unindex(child)
	})
	return child
}

// detach unlinks a child subtree, journaling the change.
func (g *Graph) detach(child *Instance) {
	parent := child.parent
	kids := parent.children[child.relation]
	pos := -1
	for k, c := range kids {
		if c == child {
			pos = k
			break
		}
	}
	if pos < 0 {
		return
	}

	rest := make([]*Instance, 0, len(kids)-1)
	rest = append(rest, kids[:pos]...)
	rest = append(rest, kids[pos+1:]...)
	parent.children[child.relation] = rest
	g.unindex(child)

	g.journal.record(func() {
		parent.children[child.relation] = kids
		g.index(child)
	})
}

func (g *Graph) index(i *Instance) {
	g.byID[i.id] = i
	g.byPath[i.path] = i
	for _, kids := range i.children {
		for _, k := range kids {
			g.index(k)
		}
	}
}

func (g *Graph) unindex(i *Instance) {
	delete(g.byID, i.id)
	delete(g.byPath, i.path)
	for _, kids := range i.children {
		for _, k := range kids {
			g.unindex(k)
		}
	}
}

// initBindings sets declared defaults on input attributes. Computed
// attributes start unset and are filled by the resolver.
func (g *Graph) initBindings(i *Instance) {
	for _, a := range g.store.Attributes(i.typeName) {
		if a.IsComputed() {
			i.bindings[a.Name] = value.Null()
			continue
		}
		i.bindings[a.Name] = a.Default
	}
}

// seed creates mandatory children up to each relation's minimum.
func (g *Graph) seed(i *Instance, d int) error {
	if d > maxSeedDepth {
		return engine.NewCardinalityViolation(
			fmt.Sprintf("mandatory relations nest deeper than %d levels", maxSeedDepth),
		).WithInstance(i.path)
	}
	for _, r := range g.store.Relations(i.typeName) {
		for i.Count(r.Name) < r.Min {
			concretes := g.store.Concretes(r.Target)
			child := g.attach(i, r.Name, concretes[0], engine.SourceSeed)
			if err := g.seed(child, d+1); err != nil {
				return err
			}
		}
	}
	return nil
}
