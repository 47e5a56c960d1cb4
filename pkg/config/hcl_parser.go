package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/expr"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/value"
)

// hclModelFile is the top-level structure of an HCL model file.
type hclModelFile struct {
	Types []*hclType `hcl:"type,block"`
}

type hclType struct {
	Name        string          `hcl:"name,label"`
	Parent      string          `hcl:"parent,optional"`
	Annotations hcl.Expression  `hcl:"annotations,optional"`
	Attributes  []*hclAttribute `hcl:"attribute,block"`
	Relations   []*hclRelation  `hcl:"relation,block"`
	Directives  []*hclDirective `hcl:"directive,block"`
}

type hclAttribute struct {
	Name            string         `hcl:"name,label"`
	Kind            string         `hcl:"kind"`
	Values          hcl.Expression `hcl:"values,optional"`
	Min             hcl.Expression `hcl:"min,optional"`
	Max             hcl.Expression `hcl:"max,optional"`
	Default         hcl.Expression `hcl:"default,optional"`
	Configurable    *bool          `hcl:"configurable,optional"`
	Derivation      hcl.Expression `hcl:"derivation,optional"`
	ContextPath     string         `hcl:"context_path,optional"`
	AttributeSource string         `hcl:"attribute_source,optional"`
	TagName         string         `hcl:"tag_name,optional"`
	Sequence        int            `hcl:"sequence,optional"`
}

type hclRelation struct {
	Name          string          `hcl:"name,label"`
	Target        string          `hcl:"target"`
	Min           int             `hcl:"min,optional"`
	Max           *int            `hcl:"max,optional"`
	CloseRelation bool            `hcl:"close_relation,optional"`
	PropagateUp   bool            `hcl:"propagate_up,optional"`
	Split         *bool           `hcl:"split,optional"`
	Sequence      int             `hcl:"sequence,optional"`
	Aggregates    []*hclAggregate `hcl:"aggregate,block"`
}

type hclAggregate struct {
	Name     string         `hcl:"name,label"`
	Expr     hcl.Expression `hcl:"expr"`
	Sequence int            `hcl:"sequence,optional"`
}

type hclDirective struct {
	Kind         string         `hcl:"kind,label"`
	ID           string         `hcl:"id,optional"`
	Condition    hcl.Expression `hcl:"condition,optional"`
	Implication  hcl.Expression `hcl:"implication,optional"`
	Relation     string         `hcl:"relation,optional"`
	RelationType string         `hcl:"relation_type,optional"`
	Text         string         `hcl:"text,optional"`
	Severity     string         `hcl:"severity,optional"`
	Action       string         `hcl:"action,optional"`
	Attribute    string         `hcl:"attribute,optional"`
	Value        hcl.Expression `hcl:"value,optional"`
	Abort        bool           `hcl:"abort,optional"`
}

// HCLParser parses HCL model files. Rule expressions are written natively;
// literal domains, defaults and annotations are evaluated statically.
type HCLParser struct {
	validator *validator.Validate
}

// NewHCLParser creates a new HCL parser.
func NewHCLParser() *HCLParser {
	return &HCLParser{validator: validator.New()}
}

// Format implements DocumentParser.
func (hp *HCLParser) Format() string { return "hcl" }

// ParseFile parses an HCL model file.
func (hp *HCLParser) ParseFile(ctx context.Context, path string) ([]*model.Type, error) {
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, hp.modelError(path, diags)
	}
	return hp.decode(ctx, path, file)
}

// Parse parses HCL content attributed to source.
func (hp *HCLParser) Parse(ctx context.Context, source string, content []byte) ([]*model.Type, error) {
	file, diags := hclparse.NewParser().ParseHCL(content, source)
	if diags.HasErrors() {
		return nil, hp.modelError(source, diags)
	}
	return hp.decode(ctx, source, file)
}

func (hp *HCLParser) decode(_ context.Context, source string, file *hcl.File) ([]*model.Type, error) {
	var parsed hclModelFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, hp.modelError(source, diags)
	}

	d := &hclDecoder{src: file.Bytes}
	doc := ModelDocument{Types: make([]TypeDoc, 0, len(parsed.Types))}
	for _, t := range parsed.Types {
		doc.Types = append(doc.Types, d.typeDoc(t))
	}
	if d.diags.HasErrors() {
		return nil, hp.modelError(source, d.diags)
	}
	if errs := validateDocument(hp.validator, source, &doc); len(errs) > 0 {
		return nil, engine.NewModelError(fmt.Sprintf("invalid HCL model %s", source), errs)
	}
	return translate(source, doc.Types)
}

func (hp *HCLParser) modelError(source string, diags hcl.Diagnostics) error {
	return engine.NewModelError(fmt.Sprintf("invalid HCL model %s", source), diags)
}

// hclDecoder converts decoded blocks to the document schema, collecting
// diagnostics instead of stopping at the first one.
type hclDecoder struct {
	src   []byte
	diags hcl.Diagnostics
}

// present reports whether an optional expression was written. gohcl fills
// absent optional expressions with a synthetic static null.
func present(e hcl.Expression) bool {
	_, ok := e.(hclsyntax.Expression)
	return ok
}

func (d *hclDecoder) typeDoc(t *hclType) TypeDoc {
	doc := TypeDoc{Name: t.Name, Parent: t.Parent}
	if present(t.Annotations) {
		doc.Annotations = d.object(t.Annotations)
	}
	for _, a := range t.Attributes {
		doc.Attributes = append(doc.Attributes, d.attributeDoc(a))
	}
	for _, r := range t.Relations {
		rd := RelationDoc{
			Name: r.Name, Target: r.Target, Min: r.Min, Max: r.Max,
			CloseRelation: r.CloseRelation, PropagateUp: r.PropagateUp, Split: r.Split, Sequence: r.Sequence,
		}
		for _, agg := range r.Aggregates {
			rd.Aggregates = append(rd.Aggregates, AggregateDoc{
				Name: agg.Name, Expr: d.expression(agg.Expr), Sequence: agg.Sequence,
			})
		}
		doc.Relations = append(doc.Relations, rd)
	}
	for _, dir := range t.Directives {
		dd := DirectiveDoc{
			ID: dir.ID, Kind: dir.Kind, Relation: dir.Relation, RelationType: dir.RelationType,
			Text: dir.Text, Severity: dir.Severity, Action: dir.Action, Attribute: dir.Attribute, Abort: dir.Abort,
		}
		if present(dir.Condition) {
			dd.Condition = d.expression(dir.Condition)
		}
		if present(dir.Implication) {
			dd.Implication = d.expression(dir.Implication)
		}
		if present(dir.Value) {
			dd.Value = d.literal(dir.Value)
		}
		doc.Directives = append(doc.Directives, dd)
	}
	return doc
}

func (d *hclDecoder) attributeDoc(a *hclAttribute) AttributeDoc {
	doc := AttributeDoc{
		Name: a.Name, Kind: a.Kind, Configurable: a.Configurable,
		ContextPath: a.ContextPath, AttributeSource: a.AttributeSource, TagName: a.TagName, Sequence: a.Sequence,
	}
	if present(a.Default) {
		doc.Default = d.literal(a.Default)
	}
	if present(a.Derivation) {
		doc.Derivation = d.expression(a.Derivation)
	}
	if present(a.Values) || present(a.Min) || present(a.Max) {
		doc.Domain = &DomainDoc{}
		if present(a.Values) {
			doc.Domain.Values = d.list(a.Values)
		}
		if present(a.Min) {
			doc.Domain.Min = d.literal(a.Min)
		}
		if present(a.Max) {
			doc.Domain.Max = d.literal(a.Max)
		}
	}
	return doc
}

// expression checks a rule expression and returns its source text.
func (d *hclDecoder) expression(e hcl.Expression) string {
	parsed, err := expr.FromHCL(e, d.src)
	if err != nil {
		d.fail(e, "Invalid expression", err)
		return ""
	}
	return parsed.Source()
}

func (d *hclDecoder) static(e hcl.Expression) (cty.Value, bool) {
	v, diags := e.Value(nil)
	if diags.HasErrors() {
		d.diags = append(d.diags, diags...)
		return cty.NilVal, false
	}
	return v, true
}

// literal evaluates a primitive literal to a value.Value.
func (d *hclDecoder) literal(e hcl.Expression) interface{} {
	v, ok := d.static(e)
	if !ok {
		return nil
	}
	out, err := value.FromCty(v)
	if err != nil {
		d.fail(e, "Invalid literal", err)
		return nil
	}
	return out
}

func (d *hclDecoder) list(e hcl.Expression) []interface{} {
	v, ok := d.static(e)
	if !ok {
		return nil
	}
	if !v.CanIterateElements() || v.Type().IsObjectType() || v.Type().IsMapType() {
		d.fail(e, "Invalid domain", fmt.Errorf("values must be a list"))
		return nil
	}
	var out []interface{}
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		x, err := value.FromCty(elem)
		if err != nil {
			d.fail(e, "Invalid domain", err)
			return nil
		}
		out = append(out, x)
	}
	return out
}

func (d *hclDecoder) object(e hcl.Expression) map[string]interface{} {
	v, ok := d.static(e)
	if !ok {
		return nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		d.fail(e, "Invalid annotations", fmt.Errorf("annotations must be an object"))
		return nil
	}
	fields := v.AsValueMap()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(fields))
	for _, k := range keys {
		x, err := value.FromCty(fields[k])
		if err != nil {
			d.fail(e, "Invalid annotations", fmt.Errorf("%s: %w", k, err))
			return nil
		}
		out[k] = x
	}
	return out
}

func (d *hclDecoder) fail(e hcl.Expression, summary string, err error) {
	d.diags = append(d.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   err.Error(),
		Subject:  e.Range().Ptr(),
	})
}
