// Package solver runs configuration sessions: it resolves computed
// attributes, executes rule directives and drives the fixpoint and
// backtracking controller over a session's instance graph.
//
// # Evaluation
//
// Each pass clears the annotations of the graph, resolves derived,
// context-bound, tag-bound and aggregate members in dependency order and
// then applies the directives of every instance in pre-order, exclusions
// first. A pass that changes neither the graph nor its annotations ends the
// evaluation in the Stable state.
//
// A failed constraint opens a choice over an input it depends on: a free
// configurable attribute with a finite domain, or a relation the constraint
// reads that the engine may instantiate speculatively. When no new choice
// remains, the most recent relevant choice is reverted through the graph
// journal and moved to its next candidate. Constraints marked abort end the
// evaluation in the Aborted state instead. Exceeding MaxPasses or
// MaxBacktracks ends it in BacktrackExhausted.
//
// # Usage
//
//	sess, err := solver.NewSession(store, solver.WithProvider(ctxdef))
//	if err != nil {
//		return err
//	}
//	res, err := sess.Set(ctx, "AutoSilver/vehicles[0]", "Year", value.Int(2024))
//	if err != nil {
//		return err // the edit was rejected
//	}
//	if !res.Submittable() {
//		// inspect res.Errors()
//	}
package solver
