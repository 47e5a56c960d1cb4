package engine_test

import (
	"errors"
	"fmt"

	"github.com/openfroyo/configurator/pkg/engine"
)

// Example_dependencyOrder resolves the computed members of a small model.
// Members without dependencies resolve first; ties follow declaration order.
func Example_dependencyOrder() {
	nodes := []engine.DependencyNode{
		{ID: "Vehicle.Age", Type: "Vehicle", Member: "Age", Order: 0},
		{
			ID: "Policy.vehicles.maxAge", Type: "Policy", Member: "maxAge", Relation: "vehicles",
			Order: 1, Dependencies: []string{"Vehicle.Age"},
		},
		{
			ID: "Policy.Premium", Type: "Policy", Member: "Premium",
			Order: 2, Dependencies: []string{"Policy.vehicles.maxAge"},
		},
		{ID: "Policy.Discount", Type: "Policy", Member: "Discount", Order: 3},
	}

	graph, err := engine.NewDAGBuilder().BuildGraph(nodes)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("depth:", graph.Depth)
	for _, id := range graph.Order {
		fmt.Printf("%d %s\n", graph.Nodes[id].Level, id)
	}
	// Output:
	// depth: 3
	// 0 Vehicle.Age
	// 0 Policy.Discount
	// 1 Policy.vehicles.maxAge
	// 2 Policy.Premium
}

// Example_errorHandling shows how callers classify engine errors.
func Example_errorHandling() {
	rejected := engine.NewDomainViolation("Year 1985 is outside 1990..2026").
		WithInstance("Policy/vehicles[0]").
		WithSubject("Year")
	err := fmt.Errorf("set Year: %w", rejected)

	fmt.Println(engine.CodeOf(err))
	fmt.Println(engine.IsEditRejection(err))
	fmt.Println(errors.Is(err, engine.ErrDomainViolation))

	_, cycle := engine.NewDAGBuilder().BuildGraph([]engine.DependencyNode{
		{ID: "A.x", Dependencies: []string{"A.y"}},
		{ID: "A.y", Dependencies: []string{"A.x"}},
	})
	fmt.Println(engine.IsModelError(cycle), engine.CodeOf(cycle))
	// Output:
	// DOMAIN_VIOLATION
	// true
	// true
	// true CYCLIC_DEPENDENCY
}
