// Package observability provides OpenTelemetry metrics and tracing for the
// sync core: RED metrics over the admission pipeline and per-domain sync
// counters, exported over OTLP gRPC.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "minaret-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram
	syncRecords    metric.Int64Counter
	syncFailures   metric.Int64Counter
	activeJobs     metric.Int64UpDownCounter
}

// New creates a provider. With Enabled=false the provider is inert and every
// Record* call is a no-op.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init traces: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.tracer = otel.Tracer("minaret.core",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("minaret.core",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.requestCounter, err = p.meter.Int64Counter("minaret.requests.total",
		metric.WithDescription("Requests admitted or rejected by the pipeline"),
		metric.WithUnit("{request}")); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("minaret.errors.total",
		metric.WithDescription("Requests that ended with status >= 400"),
		metric.WithUnit("{error}")); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("minaret.request.duration",
		metric.WithDescription("Request latency"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.syncRecords, err = p.meter.Int64Counter("minaret.sync.records",
		metric.WithDescription("Records processed by sync engines"),
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	if p.syncFailures, err = p.meter.Int64Counter("minaret.sync.failures",
		metric.WithDescription("Per-record sync failures"),
		metric.WithUnit("{record}")); err != nil {
		return err
	}
	if p.activeJobs, err = p.meter.Int64UpDownCounter("minaret.jobs.active",
		metric.WithDescription("Jobs currently running"),
		metric.WithUnit("{job}")); err != nil {
		return err
	}
	return nil
}

// RecordRequest records one admitted or rejected inbound request.
func (p *Provider) RecordRequest(ctx context.Context, method, path string, status int, latency time.Duration) {
	if p.requestCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", status),
	)
	p.requestCounter.Add(ctx, 1, attrs)
	p.durationHist.Record(ctx, float64(latency.Milliseconds()), attrs)
	if status >= 400 {
		p.errorCounter.Add(ctx, 1, attrs)
	}
}

// RecordSync records sync engine counters for one completed run.
func (p *Provider) RecordSync(ctx context.Context, jobType, resource string, processed, failed int) {
	if p.syncRecords == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("sync.job_type", jobType),
		attribute.String("sync.resource", resource),
	)
	p.syncRecords.Add(ctx, int64(processed), attrs)
	if failed > 0 {
		p.syncFailures.Add(ctx, int64(failed), attrs)
	}
}

// JobStarted and JobFinished bracket a running job for the active gauge.
func (p *Provider) JobStarted(ctx context.Context, jobType string) {
	if p.activeJobs != nil {
		p.activeJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("sync.job_type", jobType)))
	}
}

// JobFinished decrements the active job gauge.
func (p *Provider) JobFinished(ctx context.Context, jobType string) {
	if p.activeJobs != nil {
		p.activeJobs.Add(ctx, -1, metric.WithAttributes(attribute.String("sync.job_type", jobType)))
	}
}

// Tracer returns the provider's tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("minaret.core")
	}
	return p.tracer
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
