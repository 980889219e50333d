// Package telemetry sets up OpenTelemetry tracing.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options control tracing.
type Options struct {
	Enabled     bool
	ServiceName string
	// Output receives the exported spans; stdout when nil.
	Output io.Writer
}

// InitTracer installs the global tracer provider and returns the tracer the
// hub's pipelines use plus a shutdown function that flushes pending spans.
// With tracing disabled a no-op tracer is returned.
func InitTracer(opts Options, logger *slog.Logger) (trace.Tracer, func(context.Context) error, error) {
	if !opts.Enabled {
		return noop.NewTracerProvider().Tracer(opts.ServiceName), func(context.Context) error { return nil }, nil
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", opts.ServiceName))
	return tp.Tracer(opts.ServiceName), tp.Shutdown, nil
}
