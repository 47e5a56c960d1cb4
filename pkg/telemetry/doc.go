// Package telemetry provides logging, tracing, metrics and events for the
// configurator.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and event publishing behind one
// Telemetry value carried in a context.Context.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the context:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Every helper also works without telemetry in the context. Logging then
// falls back to a warn-level stderr logger and spans, metrics and events are
// skipped, so library code never has to check.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("solver")
//	logger = logger.WithSessionID(id).WithInstance("Policy/vehicles[0]")
//	logger.WithError(err).Warn("edit rejected")
//
// # Evaluations
//
// The solver opens one Evaluation per session evaluation:
//
//	ctx, ev := telemetry.StartEvaluation(ctx, sessionID, "Policy")
//	ev.Violation("Collision", path, directiveID, text)
//	ev.End(state, failed, passes, backtracks, directiveID, reason, err)
//
// An evaluation yields a span, the evaluation metrics and either an
// evaluation.completed or an evaluation.failed event.
//
// # Metrics
//
// Metrics are registered on a private registry and exposed at /metrics when
// enabled:
//
//  - cfgr_sessions_started_total{root_type}
//  - cfgr_active_sessions
//  - cfgr_evaluations_total{state}
//  - cfgr_evaluation_duration_seconds{state}
//  - cfgr_constraint_violations_total{type}
//  - cfgr_edits_rejected_total{code}
//  - cfgr_context_lookups_total{outcome}
//  - cfgr_model_loads_total{format,status}
//  - cfgr_errors_by_class_total{class}
//
// # Event Publishing
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s: %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Events are delivered synchronously unless EventsConfig.EnableAsync is set.
//
// # Exporters
//
// Tracing supports "otlp" (gRPC), "stdout" and "none".
package telemetry
