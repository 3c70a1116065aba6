package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

const (
	tracesPath    = "/v1/traces"
	logsPath      = "/v1/logs"
	exportTimeout = 10 * time.Second
	maxQueueSize  = 2048
)

// TelemetryOptions describes OTLP/HTTP export. An empty Endpoint keeps the global no-op providers.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	Insecure       bool
	Headers        map[string]string
	SampleRatio    float64
}

// Telemetry owns the tracer and logger providers installed by SetupTelemetry.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	LoggerProvider otellog.LoggerProvider

	enabled   bool
	shutdowns []func(context.Context) error
}

// SetupTelemetry installs the W3C propagators and, when an endpoint is configured, OTLP trace and log
// exporters registered as the global providers.
func SetupTelemetry(ctx context.Context, opts TelemetryOptions) (*Telemetry, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Telemetry{
		TracerProvider: otel.GetTracerProvider(),
		LoggerProvider: lognoop.NewLoggerProvider(),
	}
	if opts.Endpoint == "" {
		return t, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
			semconv.DeploymentEnvironment(opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithURLPath(tracesPath),
		otlptracehttp.WithHeaders(opts.Headers),
	}
	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpoint(opts.Endpoint),
		otlploghttp.WithURLPath(logsPath),
		otlploghttp.WithHeaders(opts.Headers),
	}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter,
			sdktrace.WithExportTimeout(exportTimeout),
			sdktrace.WithMaxQueueSize(maxQueueSize),
		)),
	)
	otel.SetTracerProvider(tracerProvider)
	t.TracerProvider = tracerProvider
	t.shutdowns = append(t.shutdowns, tracerProvider.Shutdown)

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("telemetry: log exporter: %w", err), t.Shutdown(ctx))
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
	)
	global.SetLoggerProvider(loggerProvider)
	t.LoggerProvider = loggerProvider
	t.shutdowns = append(t.shutdowns, loggerProvider.Shutdown)

	t.enabled = true
	return t, nil
}

// Enabled reports whether OTLP export is active.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.enabled
}

// LogCore returns a zap core bridging entries into the OpenTelemetry logs pipeline, or nil when export
// is disabled.
func (t *Telemetry) LogCore(scope string) zapcore.Core {
	if !t.Enabled() {
		return nil
	}
	return otelzap.NewCore(scope, otelzap.WithLoggerProvider(t.LoggerProvider))
}

// Shutdown flushes and stops the providers in reverse order of installation.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		err = errors.Join(err, t.shutdowns[i](ctx))
	}
	t.shutdowns = nil
	return err
}
