package expr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// Scope is the view of one instance that an expression is evaluated in.
// Implementations may record reads for dependency tracking.
type Scope interface {
	// Attribute returns the current value of a local attribute.
	Attribute(name string) (value.Value, bool)

	// Children returns the child scopes of a relation in order.
	Children(relation string) ([]Scope, bool)

	// Aggregate returns the value of an aggregate declared on a relation.
	Aggregate(relation, name string) (value.Value, bool)

	// Parent returns the owning instance's scope, or nil at the root.
	Parent() Scope

	// IsA reports whether the instance's type is typeName or derives from it.
	IsA(typeName string) bool
}

// Evaluate evaluates the expression in scope.
func (e *Expression) Evaluate(scope Scope) (value.Value, error) {
	return e.EvaluateOver(scope, ImplicitRelation)
}

// EvaluateOver evaluates an aggregate definition whose one-argument
// aggregate calls range over relation.
func (e *Expression) EvaluateOver(scope Scope, relation string) (value.Value, error) {
	if e == nil {
		return value.Null(), nil
	}
	ev := &evaluator{}
	return ev.eval(e.node, scope, relation)
}

// Test evaluates a condition. A nil expression is true.
func (e *Expression) Test(scope Scope) (bool, error) {
	if e == nil {
		return true, nil
	}
	v, err := e.Evaluate(scope)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

type evaluator struct{}

func (ev *evaluator) eval(node hclsyntax.Expression, scope Scope, implicit string) (value.Value, error) {
	switch e := node.(type) {
	case *hclsyntax.LiteralValueExpr:
		return value.FromCty(e.Val)

	case *hclsyntax.ScopeTraversalExpr:
		tr, err := classifyTraversal(e.Traversal)
		if err != nil {
			return value.Null(), err
		}
		switch {
		case tr.index >= 0:
			return indexed(scope, tr)
		case tr.attr != "":
			return member(scope, tr.root, tr.attr)
		default:
			return local(scope, tr.root)
		}

	case *hclsyntax.IndexExpr:
		rel, typ, err := typeFilter(e)
		if err != nil {
			return value.Null(), err
		}
		children, ok := scope.Children(rel)
		if !ok {
			return value.Null(), unknownName(rel)
		}
		var n int64
		for _, child := range children {
			if child.IsA(typ) {
				n++
			}
		}
		return value.Int(n), nil

	case *hclsyntax.FunctionCallExpr:
		if e.Name == "parent" {
			p := scope.Parent()
			if p == nil {
				return value.Null(), nil
			}
			return ev.eval(e.Args[0], p, ImplicitRelation)
		}
		if _, ok := functions[e.Name]; !ok {
			return value.Null(), engine.NewInvalidReference(fmt.Sprintf("unknown function %q", e.Name))
		}
		return ev.aggregate(e, scope, implicit)

	case *hclsyntax.BinaryOpExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			return value.Null(), unsupported(e, "operator")
		}
		lhs, err := ev.eval(e.LHS, scope, implicit)
		if err != nil {
			return value.Null(), err
		}
		// Short-circuit so the unread side is not recorded as a dependency.
		switch {
		case op == value.OpAnd && !lhs.Truthy():
			return value.Bool(false), nil
		case op == value.OpOr && lhs.Truthy():
			return value.Bool(true), nil
		}
		rhs, err := ev.eval(e.RHS, scope, implicit)
		if err != nil {
			return value.Null(), err
		}
		return value.Binary(op, lhs, rhs)

	case *hclsyntax.UnaryOpExpr:
		v, err := ev.eval(e.Val, scope, implicit)
		if err != nil {
			return value.Null(), err
		}
		if e.Op == hclsyntax.OpLogicalNot {
			return value.Not(v), nil
		}
		return value.Negate(v)

	case *hclsyntax.ConditionalExpr:
		c, err := ev.eval(e.Condition, scope, implicit)
		if err != nil {
			return value.Null(), err
		}
		if c.Truthy() {
			return ev.eval(e.TrueResult, scope, implicit)
		}
		return ev.eval(e.FalseResult, scope, implicit)

	case *hclsyntax.ParenthesesExpr:
		return ev.eval(e.Expression, scope, implicit)

	case *hclsyntax.TemplateExpr:
		var sb strings.Builder
		for _, part := range e.Parts {
			v, err := ev.eval(part, scope, implicit)
			if err != nil {
				return value.Null(), err
			}
			if !v.IsNull() {
				sb.WriteString(v.String())
			}
		}
		return value.Str(sb.String()), nil

	case *hclsyntax.TemplateWrapExpr:
		return ev.eval(e.Wrapped, scope, implicit)
	}

	return value.Null(), unsupported(node, fmt.Sprintf("%T", node))
}

func unknownName(name string) error {
	return engine.NewInvalidReference(fmt.Sprintf("unknown name %q", name)).WithSubject(name)
}

// local resolves a bare name: attribute first, then relation count.
func local(scope Scope, name string) (value.Value, error) {
	if v, ok := scope.Attribute(name); ok {
		return v, nil
	}
	if children, ok := scope.Children(name); ok {
		return value.Int(int64(len(children))), nil
	}
	return value.Null(), unknownName(name)
}

// member resolves rel.name: the declared aggregate, else the first child's
// attribute (Null without children).
func member(scope Scope, rel, name string) (value.Value, error) {
	if v, ok := scope.Aggregate(rel, name); ok {
		return v, nil
	}
	children, ok := scope.Children(rel)
	if !ok {
		if _, isAttr := scope.Attribute(rel); isAttr {
			return value.Null(), engine.NewTypeMismatch(
				fmt.Sprintf("attribute %q has no member %q", rel, name)).WithSubject(rel)
		}
		return value.Null(), unknownName(rel)
	}
	if len(children) == 0 {
		return value.Null(), nil
	}
	v, ok := children[0].Attribute(name)
	if !ok {
		return value.Null(), unknownName(rel + "." + name)
	}
	return v, nil
}

func indexed(scope Scope, tr traversal) (value.Value, error) {
	children, ok := scope.Children(tr.root)
	if !ok {
		return value.Null(), unknownName(tr.root)
	}
	if tr.index >= len(children) {
		return value.Null(), nil
	}
	v, ok := children[tr.index].Attribute(tr.attr)
	if !ok {
		return value.Null(), unknownName(fmt.Sprintf("%s[%d].%s", tr.root, tr.index, tr.attr))
	}
	return v, nil
}
