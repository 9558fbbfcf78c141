package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
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

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext carries the span and timer of one reconciliation.
type InstrumentedContext struct {
	Ctx   context.Context
	Span  trace.Span
	Timer *Timer
}

// StartOperation opens a span for operation and adds operation, trace_id
// and span_id to the context logger. Without telemetry in ctx the context
// is returned unchanged.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{Ctx: ctx, Timer: NewTimer()}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	lctx := LoggerFrom(ctx, tel.Logger.Zerolog()).With().Str("operation", operation)
	if sc := span.SpanContext(); sc.IsValid() {
		lctx = lctx.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	logger := lctx.Logger()

	tel.Metrics.ReconcileStarted()

	return &InstrumentedContext{
		Ctx:   logger.WithContext(spanCtx),
		Span:  span,
		Timer: NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if tel := FromTelemetryContext(ic.Ctx); tel != nil {
		tel.Metrics.ReconcileFinished()
	}
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// RecordReconcile records a finished reconciliation on the metrics carried by ctx.
func RecordReconcile(ctx context.Context, event, status string, duration time.Duration) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordReconcile(event, status, duration)
}

// actionSpanKey is the context key for action spans.
type actionSpanKey struct{}

// actionTimerKey is the context key for action timers.
type actionTimerKey struct{}

// WithActionContext adds action_id, action and target to the context
// logger and, when telemetry is present, opens the action span. A context
// carrying neither is returned unchanged.
func WithActionContext(ctx context.Context, actionID, operation, target string) context.Context {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger := l.With().
			Str("action_id", actionID).
			Str("action", operation).
			Str("target", target).
			Logger()
		ctx = logger.WithContext(ctx)
	}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartActionSpan(ctx, actionID, operation, target)
	spanCtx = context.WithValue(spanCtx, actionSpanKey{}, span)
	return context.WithValue(spanCtx, actionTimerKey{}, NewTimer())
}

// EndActionContext completes the action context, recording metrics and the span outcome.
func EndActionContext(ctx context.Context, operation, status, errorClass, errorCode string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(actionSpanKey{}).(trace.Span); ok {
		if err != nil {
			span.SetAttributes(AttrErrorClass.String(errorClass), AttrErrorCode.String(errorCode))
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(actionTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordAction(operation, status, duration)
	if err != nil {
		tel.Metrics.RecordError(errorClass, errorCode)
	}
}
