package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	tel.Logger = Nop()
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"development", func(c *Config) { *c = *DevelopmentConfig() }, false},
		{"production", func(c *Config) { *c = *ProductionConfig() }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"no service", func(c *Config) { c.ServiceName = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluation_RecordsMetricsAndEvents(t *testing.T) {
	tel := newTestTelemetry(t)
	var types []string
	tel.Events.Subscribe(func(e Event) { types = append(types, e.Type) }, FilterBySessionID("s-1"))

	ctx := tel.WithContext(context.Background())
	SessionStarted(ctx, "s-1", "Policy")
	_, ev := StartEvaluation(ctx, "s-1", "Policy")
	ev.Violation("Collision", "Policy/collision[0]", "d1", "too low")
	ev.End("Failed", true, 4, 2, "d1", "no candidate", nil)
	EditRejected(ctx, "s-1", "Policy", "DomainViolation", errors.New("out of domain"))
	SessionClosed(ctx)

	want := []string{
		EventTypeSessionStarted,
		EventTypeConstraintViolated,
		EventTypeEvaluationFailed,
		EventTypeEditRejected,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", types, want)
	}

	m := tel.Metrics
	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("Failed")); got != 1 {
		t.Errorf("evaluations{Failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.violations.WithLabelValues("Collision")); got != 1 {
		t.Errorf("violations{Collision} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.editsRejected.WithLabelValues("DomainViolation")); got != 1 {
		t.Errorf("edits rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 0 {
		t.Errorf("active sessions = %v, want 0", got)
	}
}

func TestContextLookupOutcomes(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	ContextLookup(ctx, true, nil, NewTimer())
	ContextLookup(ctx, false, nil, NewTimer())
	ContextLookup(ctx, false, errors.New("db closed"), NewTimer())
	ContextLookup(ctx, true, nil, NewTimer())

	for outcome, want := range map[string]float64{"hit": 2, "miss": 1, "error": 1} {
		if got := testutil.ToFloat64(tel.Metrics.contextLookups.WithLabelValues(outcome)); got != want {
			t.Errorf("lookups{%s} = %v, want %v", outcome, got, want)
		}
	}
}

func TestHelpersWithoutTelemetry(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewLoggerFrom(zerolog.New(&buf)).WithContext(context.Background())

	SessionStarted(ctx, "s", "Policy")
	ContextLookup(ctx, true, nil, NewTimer())
	_, ev := StartEvaluation(ctx, "s", "Policy")
	ev.End("Failed", true, 1, 0, "d", "boom", nil)

	ic := StartOperation(ctx, "noop")
	ic.End(nil)
	if ic.Span != nil || ic.Logger == nil {
		t.Errorf("StartOperation without telemetry = %+v", ic)
	}
	if !strings.Contains(buf.String(), "evaluation failed: boom") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestEventPublisher_Async(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8, MaxBatchSize: 4, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	got := make(chan Event, 8)
	ep.Subscribe(func(e Event) { got <- e }, FilterByType(EventTypeModelLoaded))

	if err := ep.PublishModelLoaded("a.yaml", 2); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	_ = ep.PublishModelRejected("b.yaml", "bad")

	select {
	case e := <-got:
		if e.ID == "" || e.Type != EventTypeModelLoaded {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("filtered event delivered: %+v", <-got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel || ParseLevel("bogus") != zerolog.InfoLevel {
		t.Error("unexpected level mapping")
	}
}
