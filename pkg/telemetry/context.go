package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries a span, logger and timer for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing and
// timing. Without telemetry in ctx only the logger and timer are set.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// Evaluation instruments one session evaluation.
type Evaluation struct {
	tel       *Telemetry
	span      trace.Span
	timer     *Timer
	sessionID string
	Logger    *Logger
}

// StartEvaluation opens a span and session logger for an evaluation. It works
// without telemetry in ctx; spans and metrics are then skipped.
func StartEvaluation(ctx context.Context, sessionID, rootType string) (context.Context, *Evaluation) {
	ev := &Evaluation{
		tel:       FromTelemetryContext(ctx),
		timer:     NewTimer(),
		sessionID: sessionID,
	}
	ev.Logger = FromContext(ctx).WithSessionID(sessionID)
	if ev.tel != nil {
		ctx, ev.span = ev.tel.Tracer.StartEvaluationSpan(ctx, sessionID, rootType)
	}
	return ev.Logger.WithContext(ctx), ev
}

// Violation records a constraint violation handed to backtracking.
func (e *Evaluation) Violation(typeName, instance, directive, text string) {
	e.Logger.WithInstance(instance).WithDirective(directive).Debugf("constraint violated: %s", text)
	if e.tel == nil {
		return
	}
	e.tel.Metrics.RecordViolation(typeName)
	_ = e.tel.Events.PublishConstraintViolated(e.sessionID, instance, directive, text)
	if e.span != nil {
		AddEvent(e.span, "constraint.violated",
			AttrInstance.String(instance),
			AttrDirective.String(directive),
		)
	}
}

// End records the terminal state of the evaluation.
func (e *Evaluation) End(state string, failed bool, passes, backtracks int, directive, reason string, err error) {
	duration := e.timer.Duration()
	logger := e.Logger.WithFields(map[string]interface{}{
		"state":      state,
		"passes":     passes,
		"backtracks": backtracks,
		"duration":   duration.String(),
	})
	switch {
	case err != nil:
		logger.WithError(err).Error("evaluation error")
	case failed:
		logger.WithDirective(directive).Warnf("evaluation failed: %s", reason)
	default:
		logger.Debug("evaluation stable")
	}

	if e.tel == nil {
		return
	}
	e.tel.Metrics.RecordEvaluation(state, passes, backtracks, duration)
	if failed || err != nil {
		_ = e.tel.Events.PublishEvaluationFailed(e.sessionID, state, directive, reason)
	} else {
		_ = e.tel.Events.PublishEvaluationCompleted(e.sessionID, state, passes, backtracks)
	}
	if e.span != nil {
		e.span.SetAttributes(
			AttrState.String(state),
			AttrPasses.Int(passes),
			AttrBacktracks.Int(backtracks),
		)
		if err != nil {
			RecordError(e.span, err)
		} else {
			RecordSuccess(e.span)
		}
		e.span.End()
	}
}

// SessionStarted records a new session.
func SessionStarted(ctx context.Context, sessionID, rootType string) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordSessionStarted(rootType)
	_ = tel.Events.PublishSessionStarted(sessionID, rootType)
}

// SessionClosed records the end of a session.
func SessionClosed(ctx context.Context) {
	if tel := FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordSessionClosed()
	}
}

// EditRejected records a rejected session edit.
func EditRejected(ctx context.Context, sessionID, instance, code string, err error) {
	FromContext(ctx).WithSessionID(sessionID).WithInstance(instance).WithError(err).Debug("edit rejected")
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordEditRejected(code)
	_ = tel.Events.PublishEditRejected(sessionID, instance, code, err.Error())
}

// ContextLookup records a context provider lookup.
func ContextLookup(ctx context.Context, found bool, err error, timer *Timer) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case found:
		outcome = "hit"
	}
	tel.Metrics.RecordContextLookup(outcome, timer.Duration())
}
