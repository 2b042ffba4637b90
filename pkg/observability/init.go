// Package observability sets up OpenTelemetry tracing for fetch and import runs.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceName identifies spans emitted by this module
const ServiceName = "rest-migrate"

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider. When tracing is disabled the
// global no-op provider is left in place and a no-op shutdown is returned.
// Spans are exported to w, or stderr when w is nil, so stdout stays free for
// command output.
func Init(cfg config.TracingConfig, version string, w io.Writer) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		w = os.Stderr
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return install(exporter, res, cfg.SampleRate), nil
}

func install(exporter sdktrace.SpanExporter, res *resource.Resource, rate float64) ShutdownFunc {
	var sampler sdktrace.Sampler
	switch {
	case rate <= 0:
		sampler = sdktrace.NeverSample()
	case rate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(rate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	}
	if res != nil {
		opts = append(opts, sdktrace.WithResource(res))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}
