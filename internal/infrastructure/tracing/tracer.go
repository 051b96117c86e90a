// Package tracing provides OpenTelemetry tracing with stdout and OTLP exporters
// and span helpers for fetches, writes and queue replay.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope name.
	TracerName = "github.com/jbctechsolutions/offsync"

	// Version is the semantic version of the tracer.
	Version = "0.3.0"
)

// Span names.
const (
	SpanDrain    = "drain.run"
	SpanMutation = "mutation.replay"
	SpanRemote   = "remote.request"
	SpanFetch    = "access.fetch"
	SpanWrite    = "access.write"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool
	ExporterType ExporterType
	OTLPEndpoint string    // host:port of the collector
	ServiceName  string
	Environment  string
	SampleRate   float64   // 0.0 to 1.0
	Output       io.Writer // stdout exporter destination; nil means os.Stdout
}

// DefaultConfig returns tracing disabled.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ExporterType: ExporterNone,
		ServiceName:  "offsync",
		Environment:  "development",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   Config
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{
		tracer: noop.NewTracerProvider().Tracer(TracerName),
		config: DefaultConfig(),
	}
}

// New creates a Tracer. A disabled config yields a no-op tracer.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		t := Noop()
		t.config = cfg
		return t, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Not merged with resource.Default() to avoid schema URL conflicts.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
		config:   cfg,
	}, nil
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Start starts a span. A nil Tracer starts no-op spans.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil {
		return Noop().tracer.Start(ctx, name, opts...)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// --- Domain span helpers ---

// Span is a started span with error-aware completion.
type Span struct {
	span trace.Span
}

// End completes the span successfully.
func (s *Span) End() {
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

// EndWithError completes the span, recording err if non-nil.
func (s *Span) EndWithError(err error) {
	if err == nil {
		s.End()
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.End()
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// DrainSpan covers one replay pass.
type DrainSpan struct {
	Span
}

// StartDrainSpan starts a drain.run span.
func (t *Tracer) StartDrainSpan(ctx context.Context, drainID, trigger string) (context.Context, *DrainSpan) {
	ctx, span := t.Start(ctx, SpanDrain,
		trace.WithAttributes(
			attribute.String("drain.id", drainID),
			attribute.String("drain.trigger", trigger),
		),
	)
	return ctx, &DrainSpan{Span{span: span}}
}

// SetResult records the pass counters.
func (ds *DrainSpan) SetResult(synced, failed, deferred, poisoned int) {
	ds.span.SetAttributes(
		attribute.Int("drain.synced", synced),
		attribute.Int("drain.failed", failed),
		attribute.Int("drain.deferred", deferred),
		attribute.Int("drain.poisoned", poisoned),
	)
}

// StartMutationSpan starts a mutation.replay span.
func (t *Tracer) StartMutationSpan(ctx context.Context, mutationID, method, endpoint string, retries int) (context.Context, *Span) {
	ctx, span := t.Start(ctx, SpanMutation,
		trace.WithAttributes(
			attribute.String("mutation.id", mutationID),
			attribute.String("http.request.method", method),
			attribute.String("mutation.endpoint", endpoint),
			attribute.Int("mutation.retries", retries),
		),
	)
	return ctx, &Span{span: span}
}

// RemoteSpan covers one HTTP round trip.
type RemoteSpan struct {
	Span
}

// StartRemoteSpan starts a remote.request client span.
func (t *Tracer) StartRemoteSpan(ctx context.Context, method, path string) (context.Context, *RemoteSpan) {
	ctx, span := t.Start(ctx, SpanRemote,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	return ctx, &RemoteSpan{Span{span: span}}
}

// SetStatusCode records the HTTP response status.
func (rs *RemoteSpan) SetStatusCode(code int) {
	rs.span.SetAttributes(attribute.Int("http.response.status_code", code))
}

// StartAccessSpan starts an access.fetch or access.write span.
func (t *Tracer) StartAccessSpan(ctx context.Context, name string, offline bool) (context.Context, *Span) {
	ctx, span := t.Start(ctx, name,
		trace.WithAttributes(attribute.Bool("access.offline", offline)),
	)
	return ctx, &Span{span: span}
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttribute sets an attribute on the current span.
func SetAttribute(ctx context.Context, key string, value any) {
	span := trace.SpanFromContext(ctx)
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}
