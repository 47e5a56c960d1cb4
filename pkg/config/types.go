package config

import (
	"fmt"
	"strings"
	"time"
)

// ModelDocument is the schema shared by YAML and CUE model documents.
type ModelDocument struct {
	// Types lists the declared types in declaration order.
	Types []TypeDoc `json:"types" yaml:"types" validate:"required,min=1,dive"`
}

// TypeDoc declares one type.
type TypeDoc struct {
	// Name is the type name (e.g., "AutoSilver").
	Name string `json:"name" yaml:"name" validate:"required"`

	// Parent is the supertype, if any.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`

	// Annotations are free-form type annotations. "split", "abort" and
	// "abstract" have engine meaning.
	Annotations map[string]interface{} `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	Attributes []AttributeDoc `json:"attributes,omitempty" yaml:"attributes,omitempty" validate:"dive"`
	Relations  []RelationDoc  `json:"relations,omitempty" yaml:"relations,omitempty" validate:"dive"`
	Directives []DirectiveDoc `json:"directives,omitempty" yaml:"directives,omitempty" validate:"dive"`
}

// AttributeDoc declares an attribute.
type AttributeDoc struct {
	Name string `json:"name" yaml:"name" validate:"required"`

	// Kind is boolean, integer, string, decimal or decimal(N).
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	Domain  *DomainDoc  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty"`

	// Configurable defaults to true.
	Configurable *bool `json:"configurable,omitempty" yaml:"configurable,omitempty"`

	// Derivation is an expression computing the attribute.
	Derivation string `json:"derivation,omitempty" yaml:"derivation,omitempty"`

	ContextPath     string `json:"contextPath,omitempty" yaml:"contextPath,omitempty"`
	AttributeSource string `json:"attributeSource,omitempty" yaml:"attributeSource,omitempty"`
	TagName         string `json:"tagName,omitempty" yaml:"tagName,omitempty"`
	Sequence        int    `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// DomainDoc is either an enumeration or a numeric range.
type DomainDoc struct {
	Values []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	Min    interface{}   `json:"min,omitempty" yaml:"min,omitempty"`
	Max    interface{}   `json:"max,omitempty" yaml:"max,omitempty"`
}

// RelationDoc declares a relation.
type RelationDoc struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Target string `json:"target" yaml:"target" validate:"required"`
	Min    int    `json:"min,omitempty" yaml:"min,omitempty" validate:"gte=0"`

	// Max is the maximum count; absent or negative means unbounded.
	Max *int `json:"max,omitempty" yaml:"max,omitempty"`

	Aggregates    []AggregateDoc `json:"aggregates,omitempty" yaml:"aggregates,omitempty" validate:"dive"`
	CloseRelation bool           `json:"closeRelation,omitempty" yaml:"closeRelation,omitempty"`
	PropagateUp   bool           `json:"propagateUp,omitempty" yaml:"propagateUp,omitempty"`
	Split         *bool          `json:"split,omitempty" yaml:"split,omitempty"`
	Sequence      int            `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// AggregateDoc declares an aggregate over a relation's children.
type AggregateDoc struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Expr     string `json:"expr" yaml:"expr" validate:"required"`
	Sequence int    `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// DirectiveDoc declares a rule directive.
type DirectiveDoc struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=require exclude constraint rule message"`

	Condition   string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Implication string `json:"implication,omitempty" yaml:"implication,omitempty"`

	Relation     string `json:"relation,omitempty" yaml:"relation,omitempty"`
	RelationType string `json:"relationType,omitempty" yaml:"relationType,omitempty"`

	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Severity string `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=Warning Error warning error"`

	Action    string      `json:"action,omitempty" yaml:"action,omitempty" validate:"omitempty,oneof=hide"`
	Attribute string      `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	Abort bool `json:"abort,omitempty" yaml:"abort,omitempty"`
}

// ValidationError represents a document error with location information.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path (e.g., "types[0].attributes[2].kind").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in a document.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(errs), strings.Join(msgs, "; "))
}

// LoadReport describes a completed model load.
type LoadReport struct {
	// SourceFiles lists every document that contributed types.
	SourceFiles []string `json:"source_files"`

	// Types is the number of declared types.
	Types int `json:"types"`

	// LoadedAt is when loading finished.
	LoadedAt time.Time `json:"loaded_at"`

	// Duration is how long loading and building took.
	Duration time.Duration `json:"duration"`
}
