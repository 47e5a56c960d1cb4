// Package engine provides the shared core types of the configurator: the
// classified error taxonomy, controller states, message severities and the
// dependency DAG used to order derived and aggregate attributes.
//
// # Overview
//
// A configuration model is loaded once into an immutable store (package model)
// and evaluated per session against an instance graph (package graph) by the
// fixpoint/backtracking controller (package solver). Every phase reports
// failures through EngineError:
//
//  1. Load - model documents are decoded, flattened and validated
//  2. Order - computed members are sorted with DAGBuilder
//  3. Edit - user edits are checked against domains and cardinalities
//  4. Solve - passes run resolver, evaluator and executor to a fixpoint
//
// # Error Classification
//
// Errors are classified by how far their effects propagate:
//
//   - Model: the model is rejected before any session starts
//     (CyclicDependency, InvalidReference)
//   - Edit: only the offending edit is rejected
//     (DomainViolation, CardinalityViolation, ReadOnly)
//   - Solve: recovered by backtracking unless the directive aborts
//     (UnsatisfiableConstraint, TypeMismatch)
//   - Session: terminal for the evaluation (BacktrackExhausted)
//
// Use the Is* helpers or errors.Is with the sentinel values:
//
//	if engine.IsDomainViolation(err) {
//	    // reject the edit, keep the session
//	}
//
// # Dependency Graph
//
// DAGBuilder orders DependencyNode values with Kahn's algorithm. Nodes within
// a level are sorted by their sequence annotation, then declaration order.
// Cycles are reported as CyclicDependency with the full cycle path:
//
//	builder := engine.NewDAGBuilder()
//	graph, err := builder.BuildGraph(nodes)
//	if err != nil {
//	    return err
//	}
//	for _, id := range graph.Order {
//	    // resolve id
//	}
//
// ToDOT renders the graph for Graphviz.
package engine
