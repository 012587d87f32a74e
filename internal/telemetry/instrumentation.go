package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes are kept to a bounded set of low-cardinality values
// (operation name, result status). Download/action ids are left out
// of span attributes deliberately — with potentially unbounded
// distinct ids, tagging every span with one would blow up the
// exported series cardinality. Ids belong in log fields, not span
// attributes; they're still available via trace/span id correlation
// in the logs that carry both.

// Op is a function instrumented as a single span.
type Op func(ctx context.Context) error

// InstrumentOp wraps fn in a span named name, tagging it with a fixed
// component label and a success/error status. Falls through to fn
// directly when t is nil or tracing is disabled.
func (t *Telemetry) InstrumentOp(ctx context.Context, name, component string, fn Op) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, name)
	defer span.End()

	span.SetAttributes(attribute.String("component", component))

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("status", "success"))
	return nil
}

// InstrumentControllerCall wraps a Manager method (AddDownload,
// RemoveDownload, StartDownload, ...) in a "controller.<op>" span.
func (t *Telemetry) InstrumentControllerCall(ctx context.Context, op string, fn Op) error {
	return t.InstrumentOp(ctx, "controller."+op, "scheduler.manager", fn)
}

// InstrumentWorkerIO wraps a single Downloader call (Download or
// Remove) in a "worker.<kind>" span. kind is "fetch" or "remove" — a
// bounded label, never the download id.
func (t *Telemetry) InstrumentWorkerIO(ctx context.Context, kind string, fn Op) error {
	return t.InstrumentOp(ctx, "worker."+kind, "scheduler.worker", fn)
}
