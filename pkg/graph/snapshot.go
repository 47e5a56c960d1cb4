package graph

import (
	"sort"
	"strings"

	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/value"
)

// InstanceSnapshot is an immutable, JSON-serializable copy of an instance
// subtree.
type InstanceSnapshot struct {
	ID           string                         `json:"id"`
	Path         string                         `json:"path"`
	Type         string                         `json:"type"`
	Source       engine.CreationSource          `json:"source"`
	Attributes   map[string]value.Value         `json:"attributes"`
	Aggregates   map[string]value.Value         `json:"aggregates,omitempty"`
	Items        map[string]value.Value         `json:"items,omitempty"`
	Hidden       []string                       `json:"hidden,omitempty"`
	HiddenValues map[string][]value.Value       `json:"hiddenValues,omitempty"`
	Excluded     map[string]string              `json:"excluded,omitempty"`
	Messages     []engine.Message               `json:"messages,omitempty"`
	Relations    map[string][]*InstanceSnapshot `json:"relations,omitempty"`
}

// Snapshot copies the graph from the root.
func (g *Graph) Snapshot() *InstanceSnapshot {
	return g.snapshot(g.root)
}

func (g *Graph) snapshot(i *Instance) *InstanceSnapshot {
	s := &InstanceSnapshot{
		ID:         i.id.String(),
		Path:       i.path,
		Type:       i.typeName,
		Source:     i.source,
		Attributes: copyValues(i.bindings),
	}
	if len(i.aggregates) > 0 {
		s.Aggregates = copyValues(i.aggregates)
	}
	if len(i.items) > 0 {
		s.Items = copyValues(i.items)
	}
	for attr := range i.hidden {
		s.Hidden = append(s.Hidden, attr)
	}
	sort.Strings(s.Hidden)
	if len(i.hiddenValues) > 0 {
		s.HiddenValues = make(map[string][]value.Value, len(i.hiddenValues))
		for attr, vals := range i.hiddenValues {
			s.HiddenValues[attr] = append([]value.Value(nil), vals...)
		}
	}
	if len(i.blocked) > 0 {
		s.Excluded = make(map[string]string, len(i.blocked))
		for rel, d := range i.blocked {
			s.Excluded[rel] = d
		}
	}
	if len(i.messages) > 0 {
		s.Messages = append([]engine.Message(nil), i.messages...)
	}
	for _, r := range g.store.Relations(i.typeName) {
		if s.Relations == nil {
			s.Relations = make(map[string][]*InstanceSnapshot)
		}
		kids := make([]*InstanceSnapshot, 0, i.Count(r.Name))
		for _, child := range i.children[r.Name] {
			kids = append(kids, g.snapshot(child))
		}
		s.Relations[r.Name] = kids
	}
	return s
}

func copyValues(m map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Find returns the snapshot at path within s.
func (s *InstanceSnapshot) Find(path string) (*InstanceSnapshot, bool) {
	if s.Path == path {
		return s, true
	}
	if !strings.HasPrefix(path, s.Path+"/") {
		return nil, false
	}
	for _, kids := range s.Relations {
		for _, k := range kids {
			if found, ok := k.Find(path); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// Count returns the number of children in a relation.
func (s *InstanceSnapshot) Count(relation string) int {
	return len(s.Relations[relation])
}

// Walk visits the snapshot tree in pre-order.
func (s *InstanceSnapshot) Walk(fn func(*InstanceSnapshot)) {
	fn(s)
	keys := make([]string, 0, len(s.Relations))
	for k := range s.Relations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, child := range s.Relations[k] {
			child.Walk(fn)
		}
	}
}

// Digest returns a deterministic rendering of the annotation state
// (visibility, exclusions and messages) used to detect a fixpoint.
func (g *Graph) Digest() string {
	var sb strings.Builder
	for _, i := range g.Instances() {
		sb.WriteString(i.path)
		sb.WriteByte('{')
		hidden := make([]string, 0, len(i.hidden))
		for attr := range i.hidden {
			hidden = append(hidden, attr)
		}
		for attr, vals := range i.hiddenValues {
			for _, v := range vals {
				hidden = append(hidden, attr+"="+v.GoString())
			}
		}
		sort.Strings(hidden)
		sb.WriteString(strings.Join(hidden, ","))
		sb.WriteByte('|')
		blocked := make([]string, 0, len(i.blocked))
		for rel, d := range i.blocked {
			blocked = append(blocked, rel+":"+d)
		}
		sort.Strings(blocked)
		sb.WriteString(strings.Join(blocked, ","))
		sb.WriteByte('|')
		for _, m := range i.messages {
			sb.WriteString(string(m.Severity) + ":" + m.Text + ";")
		}
		sb.WriteByte('}')
	}
	return sb.String()
}
