// Package expr parses and evaluates the configurator's expression language.
//
// Expressions use HCL native syntax (identifiers, literals, arithmetic,
// comparison and logical operators, conditionals, templates and function
// calls). They are parsed with hclsyntax and evaluated by walking the syntax
// tree over tagged values, so the operator semantics are those of package
// value rather than cty.
//
// Identifiers resolve against a Scope: a bare name is a local attribute or,
// for a relation, its current child count. rel.member reads a declared
// aggregate or the first child's attribute, rel[Type] counts children of the
// given type and rel[N].attr reads the N-th child. parent(e) evaluates e in
// the owning instance; max, min, sum and count aggregate over a relation's
// children.
package expr

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/openfroyo/configurator/pkg/engine"
)

// ImplicitRelation marks a descent into the relation an aggregate
// definition ranges over (max(Year) instead of max(vehicles, Year)).
const ImplicitRelation = ""

// RefKind classifies a static reference.
type RefKind int

const (
	// RefLocal is a bare name: an attribute or a relation count.
	RefLocal RefKind = iota

	// RefMember is rel.member: an aggregate or the first child's attribute.
	RefMember

	// RefTypeFilter is rel[Type]: the count of children of Type.
	RefTypeFilter
)

// Step is one scope change on the way to a reference.
type Step struct {
	// Parent moves to the owning instance.
	Parent bool

	// Relation descends into the children of a relation.
	// ImplicitRelation refers to the enclosing aggregate's relation.
	Relation string
}

func (s Step) String() string {
	if s.Parent {
		return "parent"
	}
	if s.Relation == ImplicitRelation {
		return "*"
	}
	return s.Relation
}

// Reference is a statically known read of an expression.
type Reference struct {
	Steps    []Step
	Kind     RefKind
	Relation string
	Name     string
	Range    hcl.Range
}

func (r Reference) String() string {
	var sb strings.Builder
	for _, s := range r.Steps {
		sb.WriteString(s.String())
		sb.WriteString("/")
	}
	switch r.Kind {
	case RefMember:
		sb.WriteString(r.Relation + "." + r.Name)
	case RefTypeFilter:
		sb.WriteString(r.Relation + "[" + r.Name + "]")
	default:
		sb.WriteString(r.Name)
	}
	return sb.String()
}

// Expression is a parsed, immutable expression.
type Expression struct {
	src  string
	node hclsyntax.Expression
	refs []Reference
}

var startPos = hcl.Pos{Line: 1, Column: 1, Byte: 0}

// Parse parses src in HCL native expression syntax.
func Parse(src string) (*Expression, error) {
	node, diags := hclsyntax.ParseExpression([]byte(src), "<expr>", startPos)
	if diags.HasErrors() {
		return nil, engine.NewModelError(fmt.Sprintf("invalid expression %q", src), diags)
	}
	return build(src, node)
}

// MustParse is like Parse but panics on error. It is intended for tests and
// built-in models.
func MustParse(src string) *Expression {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// FromHCL wraps an expression decoded from an HCL body. src is the file the
// expression was parsed from and is used to recover its source text.
func FromHCL(e hcl.Expression, src []byte) (*Expression, error) {
	node, ok := e.(hclsyntax.Expression)
	if !ok {
		return nil, engine.NewModelError(
			fmt.Sprintf("%s: expression is not in native syntax", e.Range()), nil)
	}
	text := string(e.Range().SliceBytes(src))
	return build(strings.TrimSpace(text), node)
}

func build(src string, node hclsyntax.Expression) (*Expression, error) {
	c := &collector{}
	if err := c.walk(node, nil); err != nil {
		return nil, err
	}
	return &Expression{src: src, node: node, refs: c.refs}, nil
}

// Source returns the expression text.
func (e *Expression) Source() string {
	if e == nil {
		return ""
	}
	return e.src
}

func (e *Expression) String() string { return e.Source() }

// References returns the static read set of the expression.
func (e *Expression) References() []Reference {
	if e == nil {
		return nil
	}
	out := make([]Reference, len(e.refs))
	copy(out, e.refs)
	return out
}

// IsLiteral reports whether the expression reads nothing.
func (e *Expression) IsLiteral() bool {
	return e != nil && len(e.refs) == 0
}

// collector walks a syntax tree, validating supported forms and collecting
// references.
type collector struct {
	refs []Reference
}

func unsupported(node hclsyntax.Expression, what string) error {
	return engine.NewModelError(fmt.Sprintf("%s: %s is not supported", node.Range(), what), nil)
}

func (c *collector) add(steps []Step, ref Reference) {
	ref.Steps = append([]Step(nil), steps...)
	c.refs = append(c.refs, ref)
}

func (c *collector) walk(node hclsyntax.Expression, steps []Step) error {
	switch e := node.(type) {
	case *hclsyntax.LiteralValueExpr:
		return nil

	case *hclsyntax.ScopeTraversalExpr:
		tr, err := classifyTraversal(e.Traversal)
		if err != nil {
			return err
		}
		switch {
		case tr.index >= 0:
			c.add(append(steps, Step{Relation: tr.root}), Reference{Kind: RefLocal, Name: tr.attr, Range: e.SrcRange})
		case tr.attr != "":
			c.add(steps, Reference{Kind: RefMember, Relation: tr.root, Name: tr.attr, Range: e.SrcRange})
		default:
			c.add(steps, Reference{Kind: RefLocal, Name: tr.root, Range: e.SrcRange})
		}
		return nil

	case *hclsyntax.IndexExpr:
		rel, typ, err := typeFilter(e)
		if err != nil {
			return err
		}
		c.add(steps, Reference{Kind: RefTypeFilter, Relation: rel, Name: typ, Range: e.SrcRange})
		return nil

	case *hclsyntax.FunctionCallExpr:
		return c.walkCall(e, steps)

	case *hclsyntax.BinaryOpExpr:
		if _, ok := binaryOps[e.Op]; !ok {
			return unsupported(e, "operator")
		}
		if err := c.walk(e.LHS, steps); err != nil {
			return err
		}
		return c.walk(e.RHS, steps)

	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpLogicalNot && e.Op != hclsyntax.OpNegate {
			return unsupported(e, "unary operator")
		}
		return c.walk(e.Val, steps)

	case *hclsyntax.ConditionalExpr:
		for _, sub := range []hclsyntax.Expression{e.Condition, e.TrueResult, e.FalseResult} {
			if err := c.walk(sub, steps); err != nil {
				return err
			}
		}
		return nil

	case *hclsyntax.ParenthesesExpr:
		return c.walk(e.Expression, steps)

	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			if err := c.walk(part, steps); err != nil {
				return err
			}
		}
		return nil

	case *hclsyntax.TemplateWrapExpr:
		return c.walk(e.Wrapped, steps)
	}

	return unsupported(node, fmt.Sprintf("%T", node))
}

func (c *collector) walkCall(e *hclsyntax.FunctionCallExpr, steps []Step) error {
	if e.ExpandFinal {
		return unsupported(e, "argument expansion")
	}
	fn, ok := functions[e.Name]
	if !ok {
		return engine.NewInvalidReference(fmt.Sprintf("%s: unknown function %q", e.NameRange, e.Name))
	}
	if err := fn.checkArity(e); err != nil {
		return err
	}

	switch fn.kind {
	case fnParent:
		return c.walk(e.Args[0], append(steps, Step{Parent: true}))
	case fnAggregate:
		rel, arg, err := aggregateArgs(e)
		if err != nil {
			return err
		}
		if rel != ImplicitRelation {
			c.add(steps, Reference{Kind: RefLocal, Name: rel, Range: e.Args[0].Range()})
		}
		if arg == nil {
			return nil
		}
		return c.walk(arg, append(steps, Step{Relation: rel}))
	}
	return nil
}

// traversal is a classified ScopeTraversalExpr: root, root.attr or
// root[index].attr.
type traversal struct {
	root  string
	attr  string
	index int
}

func classifyTraversal(t hcl.Traversal) (traversal, error) {
	out := traversal{index: -1}
	root, ok := t[0].(hcl.TraverseRoot)
	if !ok {
		return out, engine.NewModelError(fmt.Sprintf("%s: relative traversal", t.SourceRange()), nil)
	}
	out.root = root.Name

	rest := t[1:]
	if len(rest) == 2 {
		idx, ok := rest[0].(hcl.TraverseIndex)
		if !ok || idx.Key.IsNull() || !idx.Key.IsKnown() || idx.Key.Type() != cty.Number {
			return out, traversalError(t)
		}
		bf := idx.Key.AsBigFloat()
		n, acc := bf.Int64()
		if !bf.IsInt() || acc != big.Exact || n < 0 {
			return out, traversalError(t)
		}
		out.index = int(n)
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
		if out.index >= 0 {
			return out, traversalError(t)
		}
		return out, nil
	case 1:
		attr, ok := rest[0].(hcl.TraverseAttr)
		if !ok {
			return out, traversalError(t)
		}
		out.attr = attr.Name
		return out, nil
	}
	return out, traversalError(t)
}

func traversalError(t hcl.Traversal) error {
	return engine.NewModelError(fmt.Sprintf(
		"%s: only name, rel.member and rel[N].attr references are supported", t.SourceRange()), nil)
}

// typeFilter decodes rel[Type].
func typeFilter(e *hclsyntax.IndexExpr) (string, string, error) {
	coll, ok := e.Collection.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(coll.Traversal) != 1 {
		return "", "", unsupported(e, "indexing a computed value")
	}
	key, ok := e.Key.(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(key.Traversal) != 1 {
		return "", "", unsupported(e, "index key other than a type name")
	}
	return coll.Traversal.RootName(), key.Traversal.RootName(), nil
}
