// Package telemetry wires distributed tracing around controller calls
// and worker I/O. Metrics are Prometheus, collected directly by
// internal/metrics — this package is tracing only, grounded on the
// same otlptracehttp exporter shape used elsewhere in the example
// pack, generalized to accept configuration rather than reading
// environment variables directly.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether tracing is enabled and how spans are
// exported and sampled.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

// Telemetry holds the tracer used to instrument scheduler operations.
// The zero value is safe to call through: every Instrument* method
// falls back to invoking fn directly when t is nil or tracing was
// never enabled.
type Telemetry struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New configures the global tracer provider per cfg. When cfg.Enabled
// is false, New returns a Telemetry whose Instrument* methods are
// pass-throughs and whose Shutdown is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(initCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 0.1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{tracer: tp.Tracer(cfg.ServiceName), provider: tp}, nil
}

// Tracer returns the underlying tracer, or a no-op tracer if tracing
// is disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("noop")
	}
	return t.tracer
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// disabled Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
