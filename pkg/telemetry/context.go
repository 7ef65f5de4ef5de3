package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/cloudsim/pkg/engine"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

type runIDContextKey struct{}

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

// NewNopTelemetry returns telemetry that records nothing.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// Observer returns an observer feeding both metrics and events.
func (t *Telemetry) Observer() engine.Observer {
	return engine.Observers{t.Metrics.Observer(), t.Events.Observer()}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// ContextWithRunID tags ctx with the run it belongs to.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey{}, runID)
}

// RunIDFromContext returns the run ID stored in ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDContextKey{}).(string)
	return id
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// Run tracks one provision or destroy run.
type Run struct {
	ID        string
	Operation string

	tel   *Telemetry
	span  trace.Span
	timer *Timer
}

// StartRun opens a run span, records the start metric and event, and
// returns a context carrying the run ID and a run-scoped logger.
func (t *Telemetry) StartRun(ctx context.Context, runID, operation string) (context.Context, *Run) {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, operation)
	ctx = ContextWithRunID(ctx, runID)
	ctx = t.Logger.WithRunID(runID).WithField("operation", operation).WithContext(ctx)

	t.Metrics.RecordRunStarted(operation)
	_ = t.Events.PublishRunStarted(runID, operation)

	return ctx, &Run{ID: runID, Operation: operation, tel: t, span: span, timer: NewTimer()}
}

// End closes the run. A non-nil err marks the run failed; otherwise status
// is recorded as given.
func (r *Run) End(status string, err error) {
	duration := r.timer.Duration()
	if err != nil {
		RecordError(r.span, err)
		status = "failed"
		_ = r.tel.Events.PublishRunFailed(r.ID, r.Operation, err.Error())
	} else {
		RecordSuccess(r.span)
		_ = r.tel.Events.PublishRunCompleted(r.ID, r.Operation, status, duration)
	}
	r.span.SetAttributes(AttrOperation.String(r.Operation))
	r.span.End()
	r.tel.Metrics.RecordRunCompleted(r.Operation, status, duration)
}

// TraceResource runs fn inside a span for one resource operation.
func (t *Telemetry) TraceResource(ctx context.Context, kind engine.Kind, action engine.Action, name string, fn func(context.Context) error) error {
	ctx, span := t.Tracer.StartResourceSpan(ctx, kind, action, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
