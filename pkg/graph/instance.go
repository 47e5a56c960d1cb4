package graph

import (
	"github.com/google/uuid"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// Instance is a node of the instance graph. A parent exclusively owns its
// children.
type Instance struct {
	id       uuid.UUID
	path     string
	typeName string
	parent   *Instance
	relation string

	source    engine.CreationSource
	createdBy string

	children   map[string][]*Instance
	nextIndex  map[string]int
	bindings   map[string]value.Value
	aggregates map[string]value.Value
	locked     map[string]bool
	items      map[string]value.Value

	// Annotations recomputed by every evaluation pass.
	hidden       map[string]bool
	hiddenValues map[string][]value.Value
	messages     []engine.Message
	blocked      map[string]string
}

func newInstance(typeName, path string, parent *Instance, relation string, source engine.CreationSource) *Instance {
	return &Instance{
		id:           uuid.New(),
		path:         path,
		typeName:     typeName,
		parent:       parent,
		relation:     relation,
		source:       source,
		children:     make(map[string][]*Instance),
		nextIndex:    make(map[string]int),
		bindings:     make(map[string]value.Value),
		aggregates:   make(map[string]value.Value),
		locked:       make(map[string]bool),
		items:        make(map[string]value.Value),
		hidden:       make(map[string]bool),
		hiddenValues: make(map[string][]value.Value),
		blocked:      make(map[string]string),
	}
}

// ID returns the instance identity.
func (i *Instance) ID() uuid.UUID { return i.id }

// Path returns the readable instance path, e.g. AutoSilver/vehicles[0].
func (i *Instance) Path() string { return i.path }

// Type returns the concrete type name.
func (i *Instance) Type() string { return i.typeName }

// Parent returns the owning instance, or nil for the root.
func (i *Instance) Parent() *Instance { return i.parent }

// Relation returns the relation of the parent that holds the instance.
func (i *Instance) Relation() string { return i.relation }

// Source returns who created the instance.
func (i *Instance) Source() engine.CreationSource { return i.source }

// CreatedBy returns the ID of the require directive that created the
// instance, if any.
func (i *Instance) CreatedBy() string { return i.createdBy }

// Children returns the children of a relation in creation order.
func (i *Instance) Children(relation string) []*Instance {
	kids := i.children[relation]
	out := make([]*Instance, len(kids))
	copy(out, kids)
	return out
}

// Count returns the number of children of a relation.
func (i *Instance) Count(relation string) int {
	return len(i.children[relation])
}

// Value returns the bound value of an attribute.
func (i *Instance) Value(attr string) (value.Value, bool) {
	v, ok := i.bindings[attr]
	return v, ok
}

// Aggregate returns the last resolved value of a relation aggregate.
func (i *Instance) Aggregate(relation, name string) (value.Value, bool) {
	v, ok := i.aggregates[relation+"."+name]
	return v, ok
}

// Locked reports whether an attribute holds a user-assigned value.
func (i *Instance) Locked(attr string) bool { return i.locked[attr] }

// ItemValue returns an item-level value by tag name.
func (i *Instance) ItemValue(tag string) (value.Value, bool) {
	v, ok := i.items[tag]
	return v, ok
}

// Hidden reports whether the attribute itself is hidden.
func (i *Instance) Hidden(attr string) bool { return i.hidden[attr] }

// HiddenValues returns the hidden domain values of an attribute.
func (i *Instance) HiddenValues(attr string) []value.Value {
	return i.hiddenValues[attr]
}

// Messages returns the messages attached during the last pass.
func (i *Instance) Messages() []engine.Message {
	out := make([]engine.Message, len(i.messages))
	copy(out, i.messages)
	return out
}

// Blocked returns the directive excluding a relation, if any.
func (i *Instance) Blocked(relation string) (string, bool) {
	d, ok := i.blocked[relation]
	return d, ok
}

// Hide marks an attribute hidden.
func (i *Instance) Hide(attr string) {
	i.hidden[attr] = true
}

// HideValue marks one domain value of an attribute hidden.
func (i *Instance) HideValue(attr string, v value.Value) {
	for _, existing := range i.hiddenValues[attr] {
		if existing.Equal(v) {
			return
		}
	}
	i.hiddenValues[attr] = append(i.hiddenValues[attr], v)
}

// AddMessage attaches a validation message.
func (i *Instance) AddMessage(text string, severity engine.Severity, directive string) {
	i.messages = append(i.messages, engine.Message{
		Text:      text,
		Severity:  severity,
		Instance:  i.path,
		Directive: directive,
	})
}

// Block marks a relation excluded by a directive.
func (i *Instance) Block(relation, directive string) {
	if _, ok := i.blocked[relation]; !ok {
		i.blocked[relation] = directive
	}
}

func (i *Instance) clearAnnotations() {
	i.hidden = make(map[string]bool)
	i.hiddenValues = make(map[string][]value.Value)
	i.messages = nil
	i.blocked = make(map[string]string)
}
