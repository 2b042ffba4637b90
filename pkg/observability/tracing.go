package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the module tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// StartSpan starts a span named operation
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// Trace runs fn inside a span and records its error
func Trace(ctx context.Context, operation string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := StartSpan(ctx, operation, attrs...)
	defer span.End()

	err := fn(ctx)
	EndWithError(span, err)
	return err
}

// EndWithError sets the span status from err without ending the span
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// InjectHeaders writes the trace context of ctx into an outgoing request
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
