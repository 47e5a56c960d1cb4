package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Each schema is a CUE
// source whose definition of the same name (e.g. "#Model" for "model") is
// unified with the validated data.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("model", builtinModelSchema)
	_ = sr.RegisterSchema("scenario", builtinScenarioSchema)
}

// RegisterSchema compiles a CUE schema and registers it under name. The
// source must define #<Name> with the first letter upper-cased.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definitionName(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definitionName(name))
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema encodes Go data and validates it against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.ValidateValue(ctx, schemaName, dataVal)
}

// ValidateValue validates a CUE value against a named schema. The value must
// be concrete after unification.
func (sr *SchemaRegistry) ValidateValue(_ context.Context, schemaName string, val cue.Value) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	first := name[0]
	if first >= 'a' && first <= 'z' {
		first -= 'a' - 'A'
	}
	return "#" + string(first) + name[1:]
}

// Built-in schema definitions

const builtinModelSchema = `
// Model is a configuration model document. Other top-level fields are
// allowed so that CUE sources can hold helper values.
#Model: {
	types: [...#Type]
	...
}

#Type: {
	name:         =~"^[A-Za-z_][A-Za-z0-9_]*$"
	parent?:      string
	annotations?: {[string]: bool | number | string | null}
	attributes?:  [...#Attribute]
	relations?:   [...#Relation]
	directives?:  [...#Directive]
}

#Attribute: {
	name: =~"^[A-Za-z_][A-Za-z0-9_]*$"
	kind: "boolean" | "bool" | "integer" | "int" | "string" | "decimal" | =~"^decimal\\([0-9]+\\)$"
	domain?: {
		values?: [...(bool | number | string)]
		min?:    number
		max?:    number
	}
	default?:         bool | number | string | null
	configurable?:    bool
	derivation?:      string
	contextPath?:     string
	attributeSource?: string
	tagName?:         string
	sequence?:        int
}

#Relation: {
	name:   =~"^[A-Za-z_][A-Za-z0-9_]*$"
	target: string
	min?:   int & >=0
	max?:   int
	aggregates?: [...{
		name:      string
		expr:      string
		sequence?: int
	}]
	closeRelation?: bool
	propagateUp?:   bool
	split?:         bool
	sequence?:      int
}

#Directive: {
	id?:           string
	kind:          "require" | "exclude" | "constraint" | "rule" | "message"
	condition?:    string
	implication?:  string
	relation?:     string
	relationType?: string
	text?:         string
	severity?:     "Warning" | "Error" | "warning" | "error"
	action?:       "hide"
	attribute?:    string
	value?:        bool | number | string
	abort?:        bool
}
`

const builtinScenarioSchema = `
// Scenario is a scripted configuration session.
#Scenario: {
	name:     string & !=""
	root?:    string
	context?: null | {...}
	edits?:   null | [...#Edit]
}

#Edit: {
	op:         "set" | "unset" | "add" | "remove" | "item"
	path:       string & !=""
	attribute?: string
	relation?:  string
	type?:      string
	tag?:       string
	value?:     _
}
`
