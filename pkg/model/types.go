// Package model holds configuration model definitions and the immutable,
// flattened Store built from them.
//
// Loaders (package config) produce declared Type values. Build resolves
// single inheritance into effective member tables, validates every relation
// target and expression reference, and orders derived, bound and aggregate
// members through a dependency DAG. A Store never changes after Build and is
// safe for concurrent reads by many sessions.
package model

import (
	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/expr"
	"github.com/openfroyo/configurator/pkg/value"
)

// Type annotation keys with engine meaning.
const (
	AnnotationSplit    = "split"
	AnnotationAbort    = "abort"
	AnnotationAbstract = "abstract"
)

// Type is a declared type definition. Members list only what the type itself
// declares; inherited members are added by Build.
type Type struct {
	Name        string
	Parent      string
	Annotations map[string]value.Value
	Attributes  []*Attribute
	Relations   []*Relation
	Directives  []*Directive

	// Source locates the declaration for error messages.
	Source string
}

// Attribute is an attribute definition.
type Attribute struct {
	Name      string
	Kind      value.Kind
	Precision int32
	Domain    Domain

	// Default is the initial value; Null when none is declared.
	Default value.Value

	// Configurable is false for attributes the engine must never assign.
	Configurable bool

	// Derivation computes the attribute from other members.
	Derivation *expr.Expression

	// ContextPath and AttributeSource bind the attribute to the external
	// context key ContextPath + "." + AttributeSource.
	ContextPath     string
	AttributeSource string

	// TagName binds the attribute to an item-level value.
	TagName string

	// Sequence orders resolution among members of the same type.
	Sequence int

	// DeclaredBy is the type that declared the attribute. Set by Build.
	DeclaredBy string
	order      int
}

// IsDerived returns true if the attribute has a derivation expression.
func (a *Attribute) IsDerived() bool { return a.Derivation != nil }

// IsContextBound returns true if the attribute is pulled from the context provider.
func (a *Attribute) IsContextBound() bool { return a.ContextPath != "" }

// IsTagBound returns true if the attribute maps to an item-level value.
func (a *Attribute) IsTagBound() bool { return a.TagName != "" }

// IsComputed returns true if the engine owns the attribute's value.
func (a *Attribute) IsComputed() bool {
	return a.IsDerived() || a.IsContextBound() || a.IsTagBound()
}

// ContextKey returns the provider path of a context-bound attribute.
func (a *Attribute) ContextKey() string {
	if a.AttributeSource == "" {
		return a.ContextPath
	}
	return a.ContextPath + "." + a.AttributeSource
}

// Aggregate is an attribute computed over a relation's children.
type Aggregate struct {
	Name     string
	Expr     *expr.Expression
	Sequence int
}

// Relation is a relation definition.
type Relation struct {
	Name   string
	Target string
	Min    int

	// Max is the maximum child count; negative means unbounded.
	Max int

	Aggregates []*Aggregate

	// CloseRelation refuses engine-initiated creation.
	CloseRelation bool

	// PropagateUp declares that aggregate values flow child to parent only.
	PropagateUp bool

	// Split false caps the relation at a single instance.
	Split *bool

	Sequence int

	// DeclaredBy is the type that declared the relation. Set by Build.
	DeclaredBy string
	order      int
}

// Aggregate returns the named aggregate.
func (r *Relation) Aggregate(name string) (*Aggregate, bool) {
	for _, a := range r.Aggregates {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Bounded returns true if the relation has a finite maximum.
func (r *Relation) Bounded() bool { return r.Max >= 0 }

// Allows reports whether count lies within [Min..Max].
func (r *Relation) Allows(count int) bool {
	return count >= r.Min && (!r.Bounded() || count <= r.Max)
}

// DirectiveKind is the kind of a rule directive.
type DirectiveKind string

const (
	DirectiveRequire    DirectiveKind = "require"
	DirectiveExclude    DirectiveKind = "exclude"
	DirectiveConstraint DirectiveKind = "constraint"
	DirectiveRule       DirectiveKind = "rule"
	DirectiveMessage    DirectiveKind = "message"
)

// ActionHide is the only rule action.
const ActionHide = "hide"

// Directive is a rule directive evaluated per instance.
type Directive struct {
	ID   string
	Kind DirectiveKind

	// Condition gates the directive; nil means always.
	Condition *expr.Expression

	// Implication must hold when Condition does (constraint).
	Implication *expr.Expression

	// Relation and RelationType name the relation a require or exclude
	// targets; RelationType selects the created type for require.
	Relation     string
	RelationType string

	// Text is the require reason, constraint message or message text.
	Text string

	// Severity of a message directive.
	Severity engine.Severity

	// Action, Attribute and Value describe a rule: hide Attribute, or only
	// Value from its domain when HasValue is set.
	Action    string
	Attribute string
	Value     value.Value
	HasValue  bool

	// Abort fails the evaluation instead of backtracking.
	Abort bool

	// DeclaredBy is the type that declared the directive. Set by Build.
	DeclaredBy string
	order      int
}
