// Package tracing provides OpenTelemetry distributed tracing for the
// controller: each command dispatched to a runtime and each suspension it
// causes become spans, so a session's timeline can be inspected in a
// trace viewer. Follows a Config/TracerProvider/StartSpan shape wired to
// the OTLP-over-HTTP exporter rather than gRPC, matching the transport
// this module's go.mod actually carries.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName  string
	Environment  string
	ExporterType string // "stdout" or "otlp"
	OTLPEndpoint string
	SamplingRate float64
	Enabled      bool
}

// DefaultConfig returns development-friendly defaults: a stdout exporter
// sampling every trace.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "dbug-controller",
		Environment:  "development",
		ExporterType: "stdout",
		SamplingRate: 1.0,
		Enabled:      true,
	}
}

// TracerProvider wraps the SDK tracer provider with Dbug's config.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Init builds and installs a global TracerProvider from cfg. Shutdown must
// be called before the process exits to flush pending spans.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{provider: sdktrace.NewTracerProvider()}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.ExporterType {
	case "stdout", "":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, fmt.Errorf("tracing: otlp exporter requires an endpoint")
		}
		exporter, err = otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter type %q", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &TracerProvider{provider: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the controller's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("dbug-controller")
}

// StartCommandSpan starts a span covering the dispatch of one command to
// the attached runtime.
func StartCommandSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "command."+kind, trace.WithAttributes(attribute.String("dbug.command.kind", kind)))
}

// StartSuspensionSpan starts a span covering a task's suspension at a
// breakpoint or step, ended when the task resumes.
func StartSuspensionSpan(ctx context.Context, taskID int64, reason string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "suspension."+reason, trace.WithAttributes(
		attribute.Int64("dbug.task_id", taskID),
		attribute.String("dbug.suspension.reason", reason),
	))
}
