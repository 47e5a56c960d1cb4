package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestDAGBuilder_BuildGraph_EmptyNodes(t *testing.T) {
	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph([]DependencyNode{})

	if err != nil {
		t.Fatalf("Expected no error for empty nodes, got: %v", err)
	}

	if len(graph.Nodes) != 0 {
		t.Errorf("Expected 0 nodes, got %d", len(graph.Nodes))
	}

	if graph.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", graph.Depth)
	}
}

func TestDAGBuilder_BuildGraph_SingleNode(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "Vehicle.Age", Type: "Vehicle", Member: "Age"},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes)

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(graph.Roots) != 1 {
		t.Errorf("Expected 1 root, got %d", len(graph.Roots))
	}

	if graph.Depth != 1 {
		t.Errorf("Expected depth 1, got %d", graph.Depth)
	}

	if node := graph.Nodes["Vehicle.Age"]; node.Level != 0 {
		t.Errorf("Expected level 0, got %d", node.Level)
	}
}

func TestDAGBuilder_BuildGraph_LinearDependencies(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "Policy.vehicles.maxYear", Type: "Policy", Member: "maxYear", Relation: "vehicles",
			Dependencies: []string{"Vehicle.Year"}},
		{ID: "Vehicle.Year", Type: "Vehicle", Member: "Year"},
		{ID: "Policy.isNew", Type: "Policy", Member: "isNew",
			Dependencies: []string{"Policy.vehicles.maxYear"}},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if graph.Depth != 3 {
		t.Errorf("Expected depth 3, got %d", graph.Depth)
	}

	want := []string{"Vehicle.Year", "Policy.vehicles.maxYear", "Policy.isNew"}
	for i, id := range want {
		if graph.Order[i] != id {
			t.Errorf("Order[%d]: expected %s, got %s", i, id, graph.Order[i])
		}
	}

	if deps := graph.Nodes["Policy.isNew"].Dependencies; len(deps) != 1 || deps[0] != "Policy.vehicles.maxYear" {
		t.Errorf("Unexpected dependencies for Policy.isNew: %v", deps)
	}
}

func TestDAGBuilder_BuildGraph_SequenceTieBreak(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "T.c", Type: "T", Member: "c", Sequence: 0, Order: 0},
		{ID: "T.a", Type: "T", Member: "a", Sequence: 2, Order: 1},
		{ID: "T.b", Type: "T", Member: "b", Sequence: 1, Order: 2},
		{ID: "T.d", Type: "T", Member: "d", Sequence: 1, Order: 3},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"T.c", "T.b", "T.d", "T.a"}
	if strings.Join(graph.Order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected order %v, got %v", want, graph.Order)
	}
}

func TestDAGBuilder_BuildGraph_CycleDetection(t *testing.T) {
	tests := []struct {
		name  string
		nodes []DependencyNode
	}{
		{
			name: "self reference",
			nodes: []DependencyNode{
				{ID: "T.a", Type: "T", Member: "a", Dependencies: []string{"T.a"}},
			},
		},
		{
			name: "two node cycle",
			nodes: []DependencyNode{
				{ID: "T.a", Type: "T", Member: "a", Dependencies: []string{"T.b"}},
				{ID: "T.b", Type: "T", Member: "b", Dependencies: []string{"T.a"}},
			},
		},
		{
			name: "aggregate cycle across types",
			nodes: []DependencyNode{
				{ID: "P.kids.total", Type: "P", Member: "total", Relation: "kids",
					Dependencies: []string{"C.share"}},
				{ID: "C.share", Type: "C", Member: "share", Dependencies: []string{"P.kids.total"}},
				{ID: "P.free", Type: "P", Member: "free"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewDAGBuilder()
			_, err := builder.BuildGraph(tt.nodes)
			if err == nil {
				t.Fatal("Expected cycle error, got nil")
			}
			if !errors.Is(err, ErrCyclicDependency) {
				t.Errorf("Expected CyclicDependency, got: %v", err)
			}
			if !IsModelError(err) {
				t.Errorf("Expected model error class, got %s", ClassOf(err))
			}
			if !strings.Contains(err.Error(), "->") {
				t.Errorf("Expected cycle path in message, got: %v", err)
			}
		})
	}
}

func TestDAGBuilder_BuildGraph_UnknownDependency(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "T.a", Type: "T", Member: "a", Dependencies: []string{"T.missing"}},
	}

	builder := NewDAGBuilder()
	_, err := builder.BuildGraph(nodes)
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("Expected InvalidReference, got: %v", err)
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Type != "T" || engErr.Subject != "a" {
		t.Errorf("Expected type/subject context on error, got: %+v", engErr)
	}
}

func TestDAGBuilder_BuildGraph_DuplicateNode(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "T.a", Type: "T", Member: "a"},
		{ID: "T.a", Type: "T", Member: "a"},
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(nodes); err == nil {
		t.Fatal("Expected error for duplicate node")
	}
}

func TestDAGBuilder_BuildGraph_DiamondLevels(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "T.base", Type: "T", Member: "base"},
		{ID: "T.left", Type: "T", Member: "left", Dependencies: []string{"T.base"}},
		{ID: "T.right", Type: "T", Member: "right", Dependencies: []string{"T.base"}},
		{ID: "T.top", Type: "T", Member: "top", Dependencies: []string{"T.left", "T.right", "T.left"}},
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(nodes)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := builder.GetLevels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(levels))
	}
	if len(levels[1]) != 2 {
		t.Errorf("Expected 2 nodes at level 1, got %v", levels[1])
	}
	if got := graph.Nodes["T.top"].Level; got != 2 {
		t.Errorf("Expected T.top at level 2, got %d", got)
	}
	if got := len(graph.Nodes["T.top"].Dependencies); got != 2 {
		t.Errorf("Expected duplicate dependency to be collapsed, got %d deps", got)
	}
}

func TestDAGBuilder_ToDOT(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "Vehicle.Year", Type: "Vehicle", Member: "Year"},
		{ID: "Policy.vehicles.maxYear", Type: "Policy", Member: "maxYear", Relation: "vehicles",
			Dependencies: []string{"Vehicle.Year"}},
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(nodes); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := builder.ToDOT()
	for _, want := range []string{
		"digraph DependencyGraph",
		"cluster_level_0",
		"\"Vehicle.Year\" -> \"Policy.vehicles.maxYear\"",
		"lightgreen",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestFormatCycle(t *testing.T) {
	if got := formatCycle(nil); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
	if got := formatCycle([]string{"a", "b", "a"}); got != "a -> b -> a" {
		t.Errorf("Unexpected cycle format: %q", got)
	}
}
