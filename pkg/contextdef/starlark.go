package contextdef

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/configurator/pkg/value"
)

// StarlarkProvider serves the globals of a Starlark script. Dict and struct
// globals are flattened into dotted paths; names starting with _ are private.
type StarlarkProvider struct {
	*MapProvider
}

// LoadStarlarkFile executes the script at path.
func LoadStarlarkFile(ctx context.Context, path string, timeout time.Duration) (*StarlarkProvider, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context script: %w", err)
	}
	return LoadStarlark(ctx, path, string(src), timeout)
}

// LoadStarlark executes a script and captures its globals. Execution is
// cancelled when ctx is done or timeout elapses.
func LoadStarlark(ctx context.Context, filename, script string, timeout time.Duration) (*StarlarkProvider, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "contextdef",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	values := make(map[string]value.Value)
	for name, v := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if err := flattenStarlark(name, v, values); err != nil {
			return nil, err
		}
	}
	return &StarlarkProvider{MapProvider: &MapProvider{values: values}}, nil
}

func flattenStarlark(path string, v starlark.Value, out map[string]value.Value) error {
	switch val := v.(type) {
	case *starlark.Dict:
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return fmt.Errorf("context value %s: dict key must be string", path)
			}
			if err := flattenStarlark(path+"."+string(key), item[1], out); err != nil {
				return err
			}
		}
		return nil
	case *starlarkstruct.Struct:
		for _, name := range val.AttrNames() {
			field, err := val.Attr(name)
			if err != nil {
				return err
			}
			if err := flattenStarlark(path+"."+name, field, out); err != nil {
				return err
			}
		}
		return nil
	case *starlark.Function, *starlark.Builtin:
		return nil
	}

	scalar, err := fromStarlark(v)
	if err != nil {
		return fmt.Errorf("context value %s: %w", path, err)
	}
	out[path] = scalar
	return nil
}

func fromStarlark(v starlark.Value) (value.Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return value.Null(), nil
	case starlark.Bool:
		return value.Bool(bool(val)), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return value.Int(i), nil
		}
		return value.FromGo(new(big.Int).Set(val.BigInt()))
	case starlark.Float:
		return value.FromGo(float64(val))
	case starlark.String:
		return value.Str(string(val)), nil
	default:
		return value.Null(), fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
