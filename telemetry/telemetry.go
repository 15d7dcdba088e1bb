// Package telemetry defines the ambient logging, metrics, and tracing
// interfaces injected into every pipeline stage, plus Clue/OTEL and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger emits structured log records. keyvals is an alternating sequence
// of string keys and values, following the teacher's runtime telemetry
// convention.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges tagged with string
// dimension pairs.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer starts spans and recovers the current span from a context.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is a single unit of traced work.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Handle bundles the three telemetry interfaces into the single typed
// handle passed to every pipeline step, replacing runtime-attached
// service handles with explicit dependency injection (spec §9 Design
// Notes).
type Handle struct {
	Log     Logger
	Metrics Metrics
	Tracer  Tracer
}

// NewNoopHandle builds a Handle whose members all discard their inputs,
// suitable for tests and for components run without an observability
// backend configured.
func NewNoopHandle() Handle {
	return Handle{Log: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}
