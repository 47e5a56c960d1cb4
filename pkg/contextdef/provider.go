package contextdef

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/configurator/pkg/value"
)

// Provider supplies read-only Context Definition values by dotted path,
// e.g. SalesTransaction.UserProfile.Region.
type Provider interface {
	// Lookup returns the value at path. The boolean is false when the
	// provider does not know the path; that is not an error.
	Lookup(ctx context.Context, path string) (value.Value, bool, error)
}

// MapProvider is an in-memory Provider.
type MapProvider struct {
	mu     sync.RWMutex
	values map[string]value.Value
}

// NewMapProvider creates a provider from nested Go data. Nested maps are
// flattened into dotted paths.
func NewMapProvider(data map[string]interface{}) (*MapProvider, error) {
	values, err := Flatten(data)
	if err != nil {
		return nil, err
	}
	return &MapProvider{values: values}, nil
}

// Lookup implements Provider.
func (p *MapProvider) Lookup(_ context.Context, path string) (value.Value, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[path]
	return v, ok, nil
}

// Set stores a value at path.
func (p *MapProvider) Set(path string, v value.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]value.Value)
	}
	p.values[path] = v
}

// Paths returns the known paths in sorted order.
func (p *MapProvider) Paths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.values))
	for k := range p.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chain consults providers in order; the first one that knows a path wins.
type Chain []Provider

// Lookup implements Provider.
func (c Chain) Lookup(ctx context.Context, path string) (value.Value, bool, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		v, ok, err := p.Lookup(ctx, path)
		if err != nil {
			return value.Null(), false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return value.Null(), false, nil
}

// Flatten converts nested Go data into dotted-path values.
func Flatten(data map[string]interface{}) (map[string]value.Value, error) {
	out := make(map[string]value.Value)
	if err := flatten("", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(prefix string, data map[string]interface{}, out map[string]value.Value) error {
	for k, raw := range data {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch nested := raw.(type) {
		case map[string]interface{}:
			if err := flatten(path, nested, out); err != nil {
				return err
			}
			continue
		case map[interface{}]interface{}:
			conv := make(map[string]interface{}, len(nested))
			for nk, nv := range nested {
				conv[fmt.Sprint(nk)] = nv
			}
			if err := flatten(path, conv, out); err != nil {
				return err
			}
			continue
		}
		v, err := value.FromGo(raw)
		if err != nil {
			return fmt.Errorf("context value %s: %w", path, err)
		}
		out[path] = v
	}
	return nil
}
