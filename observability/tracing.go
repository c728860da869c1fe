// Package observability provides distributed tracing for the sutra kernel.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the kernel's tracer provider.
type Config struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Exporter         string // "jaeger", "zipkin", "otlp", "stdout"
	ExporterEndpoint string
	SamplingRate     float64
	Environment      string
}

// TracingManager owns the kernel's TracerProvider lifecycle.
type TracingManager struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	running  bool
	mu       sync.RWMutex
}

// NewTracingManager builds a TracingManager. When config.Enabled is false,
// it returns a manager whose Tracer() is a no-op.
func NewTracingManager(config Config) (*TracingManager, error) {
	if !config.Enabled {
		return &TracingManager{config: config, tracer: trace.NewNoopTracerProvider().Tracer("sutra")}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	exporter, err := createExporter(config)
	if err != nil {
		return nil, fmt.Errorf("observability: build exporter: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(config.SamplingRate)
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if config.SamplingRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		tracer:   tp.Tracer(config.ServiceName),
		provider: tp,
	}, nil
}

func createExporter(config Config) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.ExporterEndpoint)))
	case "zipkin":
		return zipkin.New(config.ExporterEndpoint)
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(config.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		)
		return otlptrace.New(context.Background(), client)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Start marks the manager running. Tracing itself is active as soon as the
// provider is registered; Start/Stop track lifecycle for callers that model
// every component as start/stop.
func (tm *TracingManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = true
	tm.mu.Unlock()
	return nil
}

// Stop flushes and shuts down the tracer provider.
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()
	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Tracer returns the tracer spans should be started from.
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// TraceSend wraps a CommHub.Send call with a span named for the topic.
func TraceSend(ctx context.Context, tracer trace.Tracer, topic string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("sutra.send.%s", topic))
	defer span.End()
	span.SetAttributes(attribute.String("sutra.topic", topic))

	err := fn(ctx)
	span.SetAttributes(attribute.Bool("sutra.success", err == nil))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// TraceRequest wraps a CommHub.Request call with a span named for the topic.
func TraceRequest(ctx context.Context, tracer trace.Tracer, to, topic string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("sutra.request.%s.%s", to, topic))
	defer span.End()
	span.SetAttributes(
		attribute.String("sutra.to", to),
		attribute.String("sutra.topic", topic),
	)

	err := fn(ctx)
	span.SetAttributes(attribute.Bool("sutra.success", err == nil))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// TracePattern wraps a composite pattern invocation (FanOut, Pipeline, ...)
// with a span carrying its own name.
func TracePattern(ctx context.Context, tracer trace.Tracer, pattern string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("sutra.pattern.%s", pattern))
	defer span.End()

	err := fn(ctx)
	span.SetAttributes(attribute.Bool("sutra.success", err == nil))
	if err != nil {
		span.RecordError(err)
	}
	return err
}
