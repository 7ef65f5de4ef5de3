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

	"github.com/openfroyo/cloudsim/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"development", func(c *Config) { *c = *DevelopmentConfig() }, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"async without buffer", func(c *Config) { c.Events.EnableAsync = true; c.Events.BufferSize = 0 }, true},
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

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerFrom(zerolog.New(&buf)).NewComponentLogger("compute")

	l.WithResource(engine.KindInstance, "i-1").
		WithError(engine.NewNotFoundError(engine.KindInstance, "i-1")).
		Warn("stop rejected")

	out := buf.String()
	for _, want := range []string{`"component":"compute"`, `"resource_id":"i-1"`, `"error_code":"NOT_FOUND"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}

func TestEventPublisher_SyncOrdering(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error: %v", err)
	}

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Message) }, nil)

	obs := ep.Observer()
	ctx := ContextWithRunID(context.Background(), "run-1")
	obs.Observe(ctx, engine.Change{Kind: engine.KindInstance, ID: "i-1", Name: "i-1", Action: engine.ActionCreate, To: "pending"})
	obs.Observe(ctx, engine.Change{Kind: engine.KindInstance, ID: "i-1", Name: "i-1", Action: engine.ActionCreate, From: "pending", To: "running"})

	want := []string{"create i-1: none -> pending", "create i-1: pending -> running"}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEventPublisher_Filters(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})

	var runEvents, warnings int
	ep.Subscribe(func(Event) { runEvents++ }, FilterByType(EventTypeRunStarted, EventTypeRunCompleted))
	ep.Subscribe(func(Event) { warnings++ }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishRunStarted("r", "provision")
	_ = ep.PublishChange("r", engine.Change{Kind: engine.KindBucket, Name: "b", Action: engine.ActionDelete, Err: engine.NewBucketNotEmptyError("b", 1)})
	_ = ep.PublishRunCompleted("r", "provision", "succeeded", time.Millisecond)

	if runEvents != 2 {
		t.Errorf("run events = %d, want 2", runEvents)
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

func TestEventPublisher_AsyncShutdownDrains(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16, MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error: %v", err)
	}
	delivered := make(chan Event, 16)
	ep.Subscribe(func(e Event) { delivered <- e }, FilterByRunID("r"))

	for range 5 {
		if err := ep.PublishRunStarted("r", "provision"); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if len(delivered) != 5 {
		t.Errorf("delivered %d events, want 5", len(delivered))
	}
	if err := ep.PublishRunStarted("r", "provision"); err == nil {
		t.Error("publish after shutdown should fail")
	}
}

func TestMetricsObserver(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	obs := m.Observer()
	ctx := context.Background()

	obs.Observe(ctx, engine.Change{Kind: engine.KindInstance, Action: engine.ActionStop})
	obs.Observe(ctx, engine.Change{Kind: engine.KindInstance, Action: engine.ActionStop,
		Err: engine.NewInvalidTransitionError(engine.KindInstance, "i-1", "stopped", "stopped")})
	obs.Observe(ctx, engine.Change{Kind: engine.KindInstance, Action: engine.ActionStop, Err: errors.New("plain")})

	if v := testutil.ToFloat64(m.operations.WithLabelValues("instance", "stop", "success")); v != 1 {
		t.Errorf("success count = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.operations.WithLabelValues("instance", "stop", "failure")); v != 2 {
		t.Errorf("failure count = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.errorsByCode.WithLabelValues("instance", engine.ErrCodeInvalidStateTransition)); v != 1 {
		t.Errorf("transition errors = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.errorsByCode.WithLabelValues("instance", "UNCLASSIFIED")); v != 1 {
		t.Errorf("unclassified errors = %v, want 1", v)
	}

	m.SetResourceCounts(engine.KindBucket, map[engine.State]int{"active": 3})
	m.SetResourceCounts(engine.KindBucket, map[engine.State]int{"active": 1})
	if v := testutil.ToFloat64(m.resources.WithLabelValues("bucket", "active")); v != 1 {
		t.Errorf("bucket gauge = %v, want 1", v)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{})
	m.RecordRunStarted("provision")
	m.RecordOperation(engine.KindBucket, engine.ActionCreate, nil)
	m.SetResourceCounts(engine.KindBucket, map[engine.State]int{"active": 1})
	if m.Registry() != nil || m.NewMetricsServer() != nil {
		t.Error("disabled metrics should have no registry or server")
	}
}

func TestStartRun(t *testing.T) {
	tel := NewNopTelemetry()
	tel.Metrics, _ = NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	tel.Events, _ = NewEventPublisher(EventsConfig{Enabled: true})

	var types []string
	tel.Events.Subscribe(func(e Event) { types = append(types, e.Type) }, FilterByRunID("run-9"))

	ctx, run := tel.StartRun(context.Background(), "run-9", "provision")
	if RunIDFromContext(ctx) != "run-9" {
		t.Errorf("run id not propagated")
	}
	err := tel.TraceResource(ctx, engine.KindBucket, engine.ActionCreate, "b", func(ctx context.Context) error {
		tel.Observer().Observe(ctx, engine.Change{Kind: engine.KindBucket, Name: "b", Action: engine.ActionCreate, To: "active"})
		return nil
	})
	if err != nil {
		t.Fatalf("TraceResource() error: %v", err)
	}
	run.End("succeeded", nil)

	want := []string{EventTypeRunStarted, EventTypeResourceStateChanged, EventTypeRunCompleted}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", types, want)
	}
	if v := testutil.ToFloat64(tel.Metrics.runsCompleted.WithLabelValues("provision", "succeeded")); v != 1 {
		t.Errorf("completed runs = %v, want 1", v)
	}
}
