package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

type fnKind int

const (
	fnParent fnKind = iota
	fnAggregate
)

type function struct {
	kind    fnKind
	minArgs int
	maxArgs int
}

var functions = map[string]function{
	"parent": {kind: fnParent, minArgs: 1, maxArgs: 1},
	"max":    {kind: fnAggregate, minArgs: 1, maxArgs: 2},
	"min":    {kind: fnAggregate, minArgs: 1, maxArgs: 2},
	"sum":    {kind: fnAggregate, minArgs: 1, maxArgs: 2},
	"count":  {kind: fnAggregate, minArgs: 0, maxArgs: 2},
}

var binaryOps = map[*hclsyntax.Operation]value.Op{
	hclsyntax.OpLogicalAnd:         value.OpAnd,
	hclsyntax.OpLogicalOr:          value.OpOr,
	hclsyntax.OpEqual:              value.OpEqual,
	hclsyntax.OpNotEqual:           value.OpNotEqual,
	hclsyntax.OpGreaterThan:        value.OpGreaterThan,
	hclsyntax.OpGreaterThanOrEqual: value.OpGreaterThanOrEqual,
	hclsyntax.OpLessThan:           value.OpLessThan,
	hclsyntax.OpLessThanOrEqual:    value.OpLessThanOrEqual,
	hclsyntax.OpAdd:                value.OpAdd,
	hclsyntax.OpSubtract:           value.OpSubtract,
	hclsyntax.OpMultiply:           value.OpMultiply,
	hclsyntax.OpDivide:             value.OpDivide,
	hclsyntax.OpModulo:             value.OpModulo,
}

func (f function) checkArity(e *hclsyntax.FunctionCallExpr) error {
	if n := len(e.Args); n < f.minArgs || n > f.maxArgs {
		return engine.NewModelError(fmt.Sprintf("%s: %s takes %d to %d arguments, got %d",
			e.Range(), e.Name, f.minArgs, f.maxArgs, n), nil)
	}
	return nil
}

// aggregateArgs splits an aggregate call into its relation and per-child
// expression. One-argument forms range over the implicit relation; count
// with a single argument takes it as the predicate.
func aggregateArgs(e *hclsyntax.FunctionCallExpr) (string, hclsyntax.Expression, error) {
	switch len(e.Args) {
	case 0:
		return ImplicitRelation, nil, nil
	case 1:
		return ImplicitRelation, e.Args[0], nil
	}
	ref, ok := e.Args[0].(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(ref.Traversal) != 1 {
		return "", nil, engine.NewModelError(
			fmt.Sprintf("%s: first argument of %s must be a relation name", e.Args[0].Range(), e.Name), nil)
	}
	return ref.Traversal.RootName(), e.Args[1], nil
}

// aggregate folds an expression over a relation's children.
func (ev *evaluator) aggregate(e *hclsyntax.FunctionCallExpr, scope Scope, implicit string) (value.Value, error) {
	rel, arg, err := aggregateArgs(e)
	if err != nil {
		return value.Null(), err
	}
	if rel == ImplicitRelation {
		if implicit == ImplicitRelation {
			return value.Null(), engine.NewInvalidReference(
				fmt.Sprintf("%s: %s without a relation outside an aggregate definition", e.Range(), e.Name))
		}
		rel = implicit
	}

	children, ok := scope.Children(rel)
	if !ok {
		return value.Null(), engine.NewInvalidReference(fmt.Sprintf("unknown relation %q", rel)).WithSubject(rel)
	}

	switch e.Name {
	case "count":
		if arg == nil {
			return value.Int(int64(len(children))), nil
		}
		var n int64
		for _, child := range children {
			v, err := ev.eval(arg, child, ImplicitRelation)
			if err != nil {
				return value.Null(), err
			}
			if v.Truthy() {
				n++
			}
		}
		return value.Int(n), nil

	case "sum":
		total := value.Int(0)
		for _, child := range children {
			v, err := ev.eval(arg, child, ImplicitRelation)
			if err != nil {
				return value.Null(), err
			}
			if v.IsNull() {
				continue
			}
			if total, err = value.Binary(value.OpAdd, total, v); err != nil {
				return value.Null(), err
			}
		}
		return total, nil

	default:
		pick := value.Max
		if e.Name == "min" {
			pick = value.Min
		}
		result := value.Null()
		for _, child := range children {
			v, err := ev.eval(arg, child, ImplicitRelation)
			if err != nil {
				return value.Null(), err
			}
			if result, err = pick(result, v); err != nil {
				return value.Null(), err
			}
		}
		return result, nil
	}
}
