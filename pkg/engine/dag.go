package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyNode is a computed member of a type: a derived attribute, a
// context-bound attribute or a relation aggregate. Dependencies lists the IDs
// of the nodes whose values it reads.
type DependencyNode struct {
	// ID is the unique node identifier (e.g., "Vehicle.Age", "Policy.vehicles.maxYear").
	ID string

	// Type is the concrete type owning the member.
	Type string

	// Member is the attribute or aggregate name within the type.
	Member string

	// Relation is set for aggregate members.
	Relation string

	// Sequence is the declared sequence annotation (lower resolves first).
	Sequence int

	// Order is the declaration order used as the final tie-breaker.
	Order int

	// Dependencies lists node IDs that must be resolved before this node.
	Dependencies []string
}

// GraphNode is a node of a built dependency graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// DependencyGraph is the resolved, acyclic dependency graph of a model.
type DependencyGraph struct {
	// Nodes maps node IDs to graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Order is the full resolution order (levels flattened, ties broken by
	// sequence then declaration order).
	Order []string `json:"order"`

	// Roots are nodes without dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of levels.
	Depth int `json:"depth"`
}

// DAGBuilder builds a directed acyclic graph from dependency nodes.
// It performs topological sorting and assigns resolution levels.
type DAGBuilder struct {
	// nodes maps node IDs to their definitions
	nodes map[string]*DependencyNode

	// adjacencyList maps node IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps node IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels maps resolution level to node IDs at that level
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:                make(map[string]*DependencyNode),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
		levels:               make([][]string, 0),
	}
}

// BuildGraph constructs a dependency graph from nodes.
// It validates dependencies, detects cycles, and computes resolution levels.
func (b *DAGBuilder) BuildGraph(nodes []DependencyNode) (*DependencyGraph, error) {
	if len(nodes) == 0 {
		return &DependencyGraph{
			Nodes: make(map[string]*GraphNode),
			Order: make([]string, 0),
			Roots: make([]string, 0),
		}, nil
	}

	if err := b.initialize(nodes); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildDependencyGraph(), nil
}

// initialize sets up the internal data structures from nodes.
func (b *DAGBuilder) initialize(nodes []DependencyNode) error {
	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			return NewModelError("dependency node has empty ID", nil)
		}
		if _, exists := b.nodes[node.ID]; exists {
			return NewModelError(fmt.Sprintf("duplicate dependency node: %s", node.ID), nil)
		}

		b.nodes[node.ID] = node
		b.adjacencyList[node.ID] = make([]string, 0)
		b.reverseAdjacencyList[node.ID] = make([]string, 0)
		b.inDegree[node.ID] = 0
	}

	for _, id := range b.sortedIDs() {
		node := b.nodes[id]
		seen := make(map[string]bool, len(node.Dependencies))
		for _, dep := range node.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			if _, exists := b.nodes[dep]; !exists {
				return NewInvalidReference(
					fmt.Sprintf("%s depends on unknown member %s", node.ID, dep),
				).WithType(node.Type).WithSubject(node.Member)
			}

			// Edge from dependency to node: the dependency resolves first.
			b.adjacencyList[dep] = append(b.adjacencyList[dep], node.ID)
			b.reverseAdjacencyList[node.ID] = append(b.reverseAdjacencyList[node.ID], dep)
			b.inDegree[node.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewCyclicDependency(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
			).WithDetail("cycle", cycle)
		}
	}

	return nil
}

// detectCyclesUtil performs DFS and returns the cycle path if one is found.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns resolution levels to each node using Kahn's algorithm.
// Nodes within a level are ordered by sequence, then declaration order.
func (b *DAGBuilder) computeLevels() error {
	inDegreeCopy := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegreeCopy[id] = degree
	}

	currentLevel := make([]string, 0)
	for id, degree := range inDegreeCopy {
		if degree == 0 {
			currentLevel = append(currentLevel, id)
		}
	}

	processedCount := 0
	for len(currentLevel) > 0 {
		b.sortLevel(currentLevel)
		b.levels = append(b.levels, currentLevel)
		processedCount += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}

		currentLevel = nextLevel
	}

	if processedCount != len(b.nodes) {
		return NewInternalError("failed to order all members - possible cycle", nil)
	}

	return nil
}

func (b *DAGBuilder) sortLevel(level []string) {
	sort.SliceStable(level, func(i, j int) bool {
		a, c := b.nodes[level[i]], b.nodes[level[j]]
		if a.Sequence != c.Sequence {
			return a.Sequence < c.Sequence
		}
		if a.Order != c.Order {
			return a.Order < c.Order
		}
		return a.ID < c.ID
	})
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// buildDependencyGraph creates the final DependencyGraph structure.
func (b *DAGBuilder) buildDependencyGraph() *DependencyGraph {
	graph := &DependencyGraph{
		Nodes: make(map[string]*GraphNode, len(b.nodes)),
		Order: make([]string, 0, len(b.nodes)),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			graph.Order = append(graph.Order, id)
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	return graph
}

// GetLevels returns the computed resolution levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the DAG for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			node := b.nodes[id]
			color := "lightblue"
			if node.Relation != "" {
				color = "lightgreen"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, node.Type, strings.TrimPrefix(id, node.Type+"."), color))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.reverseAdjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
