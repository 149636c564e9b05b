package config

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"

	serviceName = "discord-gateway"
)

// NewTracerProvider builds the tracer provider for exporter. It returns nil
// for TraceExporterNone; spans then go to the global no-op provider.
func NewTracerProvider(exporter string, w io.Writer) (*sdktrace.TracerProvider, error) {
	switch exporter {
	case TraceExporterNone, "":
		return nil, nil
	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("could not create stdout trace exporter: %w", err)
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))),
		), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}
