package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay low cardinality. Image names, URLs and cache paths
// belong in logs, never in attributes: every distinct value becomes a new series.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentFetch instruments a single image fetch. fn reports the number of bytes received.
func (t *Telemetry) InstrumentFetch(ctx context.Context, scheme string, fn func(ctx context.Context) (int, error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	var size int

	start := time.Now()
	err := t.InstrumentOperation(ctx, "fetch", "fetcher", func(ctx context.Context) error {
		var err error

		size, err = fn(ctx)

		return err
	})

	t.RecordFetch(scheme, statusOf(err), size, time.Since(start))

	return err
}

// InstrumentAmbienceCall instruments a call to the theming service.
func (t *Telemetry) InstrumentAmbienceCall(ctx context.Context, method string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "ambienced_"+method, "ambienced", fn)

	t.RecordAmbienceCall(method, statusOf(err))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
