package solver

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/configurator/pkg/contextdef"
	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/model"
	"github.com/openfroyo/configurator/pkg/value"
)

// EditOp names a scripted session mutation.
type EditOp string

const (
	OpSet    EditOp = "set"
	OpUnset  EditOp = "unset"
	OpAdd    EditOp = "add"
	OpRemove EditOp = "remove"
	OpItem   EditOp = "item"
)

// Edit is one scripted mutation of a session.
type Edit struct {
	Op        EditOp      `json:"op" yaml:"op" validate:"required,oneof=set unset add remove item"`
	Path      string      `json:"path" yaml:"path" validate:"required"`
	Attribute string      `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Relation  string      `json:"relation,omitempty" yaml:"relation,omitempty"`
	Type      string      `json:"type,omitempty" yaml:"type,omitempty"`
	Tag       string      `json:"tag,omitempty" yaml:"tag,omitempty"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

func (e Edit) String() string {
	switch e.Op {
	case OpSet:
		return fmt.Sprintf("set %s.%s = %v", e.Path, e.Attribute, e.Value)
	case OpUnset:
		return fmt.Sprintf("unset %s.%s", e.Path, e.Attribute)
	case OpAdd:
		return fmt.Sprintf("add %s/%s %s", e.Path, e.Relation, e.Type)
	case OpRemove:
		return fmt.Sprintf("remove %s", e.Path)
	case OpItem:
		return fmt.Sprintf("item %s[%s] = %v", e.Path, e.Tag, e.Value)
	}
	return string(e.Op)
}

// Scenario is a scripted session: a root type, context values and edits
// applied in order.
type Scenario struct {
	Name    string                 `json:"name" yaml:"name" validate:"required"`
	Root    string                 `json:"root,omitempty" yaml:"root,omitempty"`
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
	Edits   []Edit                 `json:"edits,omitempty" yaml:"edits,omitempty" validate:"dive"`
}

// RejectedEdit records an edit the session refused.
type RejectedEdit struct {
	Index int    `json:"index"`
	Edit  string `json:"edit"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name     string         `json:"name"`
	Result   *Result        `json:"result,omitempty"`
	Rejected []RejectedEdit `json:"rejected,omitempty"`
	Err      error          `json:"-"`
}

// RunScenario plays a scenario in a fresh session. Rejected edits are
// recorded and skipped; the last evaluation result is returned.
func RunScenario(ctx context.Context, store *model.Store, sc Scenario, opts ...Option) ScenarioResult {
	out := ScenarioResult{Name: sc.Name}

	cfg := sessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	// opts is shared by every worker of RunScenarios; never append in place.
	opts = opts[:len(opts):len(opts)]
	if len(sc.Context) > 0 {
		local, err := contextdef.NewMapProvider(sc.Context)
		if err != nil {
			out.Err = fmt.Errorf("scenario %s context: %w", sc.Name, err)
			return out
		}
		opts = append(opts, WithProvider(contextdef.Chain{local, cfg.provider}))
	}
	if sc.Root != "" {
		opts = append(opts, WithRoot(sc.Root))
	}

	sess, err := NewSession(store, opts...)
	if err != nil {
		out.Err = err
		return out
	}
	defer sess.Close(ctx)

	res, err := sess.Evaluate(ctx)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res

	for i, e := range sc.Edits {
		res, err := applyEdit(ctx, sess, e)
		if err != nil {
			if !engine.IsEditRejection(err) {
				out.Err = fmt.Errorf("edit %d (%s): %w", i, e, err)
				return out
			}
			out.Rejected = append(out.Rejected, RejectedEdit{
				Index: i, Edit: e.String(), Code: engine.CodeOf(err), Error: err.Error(),
			})
			continue
		}
		out.Result = res
	}
	return out
}

func applyEdit(ctx context.Context, sess *Session, e Edit) (*Result, error) {
	v, err := value.FromGo(e.Value)
	if err != nil {
		return nil, engine.NewDomainViolation(err.Error()).WithInstance(e.Path)
	}
	switch e.Op {
	case OpSet:
		return sess.Set(ctx, e.Path, e.Attribute, v)
	case OpUnset:
		return sess.Unset(ctx, e.Path, e.Attribute)
	case OpAdd:
		_, res, err := sess.AddChild(ctx, e.Path, e.Relation, e.Type)
		return res, err
	case OpRemove:
		return sess.RemoveChild(ctx, e.Path)
	case OpItem:
		return sess.SetItemValue(ctx, e.Path, e.Tag, v)
	}
	return nil, engine.NewNotFound(fmt.Sprintf("unknown edit op %q", e.Op))
}

// RunScenarios plays scenarios concurrently on a bounded worker pool. The
// store is shared read-only; every scenario gets its own session. Results
// keep the order of scenarios.
func RunScenarios(ctx context.Context, store *model.Store, scenarios []Scenario, workers int, opts ...Option) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	if len(scenarios) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 4
	}
	if workers > len(scenarios) {
		workers = len(scenarios)
	}

	queue := make(chan int, len(scenarios))
	for i := range scenarios {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				select {
				case <-ctx.Done():
					results[i] = ScenarioResult{Name: scenarios[i].Name, Err: ctx.Err()}
					continue
				default:
				}
				results[i] = RunScenario(ctx, store, scenarios[i], opts...)
			}
		}()
	}
	wg.Wait()
	return results
}
