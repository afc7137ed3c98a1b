package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"bfintake/internal/config"
	"bfintake/pkg/contracts/domain"
)

// InstrumentationName names the tracer and meter of every intake component.
const InstrumentationName = "bfintake"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing (stdout exporter) and metrics (Prometheus
// exporter on a private registry). Disabled signals get noop implementations
// so callers never branch on nil.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	logger = WithComponent(logger, "otel")
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	providers := &OTelProviders{
		Logger:         logger,
		Tracer:         tracenoop.NewTracerProvider().Tracer(InstrumentationName),
		Meter:          noop.NewMeterProvider().Meter(InstrumentationName),
		PrometheusHTTP: http.NotFoundHandler(),
	}

	if cfg.TracesEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		registry := promclient.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.Bool("tracing_enabled", cfg.TracesEnabled),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PipelineMetrics holds the intake service instruments.
type PipelineMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	FilesProcessed metric.Int64Counter
	RecordsFolded  metric.Int64Counter
	RecordsSkipped metric.Int64Counter
	BytesIngested  metric.Int64Counter
	FileDuration   metric.Float64Histogram
}

// NewPipelineMetrics creates the intake instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var m PipelineMetrics
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter("http_active_requests",
		metric.WithDescription("Number of in-flight HTTP requests")); err != nil {
		return nil, err
	}
	if m.FilesProcessed, err = meter.Int64Counter("intake_files_processed_total",
		metric.WithDescription("Files processed by operation and outcome")); err != nil {
		return nil, err
	}
	if m.RecordsFolded, err = meter.Int64Counter("intake_records_folded_total",
		metric.WithDescription("Events folded into market state")); err != nil {
		return nil, err
	}
	if m.RecordsSkipped, err = meter.Int64Counter("intake_records_skipped_total",
		metric.WithDescription("Malformed, unrecognized and orphaned events")); err != nil {
		return nil, err
	}
	if m.BytesIngested, err = meter.Int64Counter("intake_bytes_ingested_total",
		metric.WithDescription("Bytes accepted into the uploaded stage"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.FileDuration, err = meter.Float64Histogram("intake_file_duration_seconds",
		metric.WithDescription("Per-file processing time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordFile records one processed file. Safe on a nil receiver.
func (m *PipelineMetrics) RecordFile(ctx context.Context, operation, status string, d time.Duration, folded, skipped int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.FilesProcessed.Add(ctx, 1, attrs)
	m.FileDuration.Record(ctx, d.Seconds(), attrs)
	if folded > 0 {
		m.RecordsFolded.Add(ctx, int64(folded))
	}
	if skipped > 0 {
		m.RecordsSkipped.Add(ctx, int64(skipped))
	}
}

// RecordIngest records bytes accepted by an upload. Safe on a nil receiver.
func (m *PipelineMetrics) RecordIngest(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.BytesIngested.Add(ctx, n)
}

// CacheStatusFunc reports current cache contents.
type CacheStatusFunc func(ctx context.Context) (domain.CacheStatus, error)

// RegisterCacheGauges exposes per-stage entry count and bytes as observable
// gauges. Values are read from status at collection time.
func RegisterCacheGauges(meter metric.Meter, status CacheStatusFunc) (metric.Registration, error) {
	entries, err := meter.Int64ObservableGauge("intake_cache_entries",
		metric.WithDescription("Entries currently cached per stage"))
	if err != nil {
		return nil, err
	}
	size, err := meter.Int64ObservableGauge("intake_cache_bytes",
		metric.WithDescription("Bytes currently cached per stage"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		st, err := status(ctx)
		if err != nil {
			return err
		}
		for stage, s := range st {
			attrs := metric.WithAttributes(attribute.String("stage", string(stage)))
			o.ObserveInt64(entries, int64(s.Count), attrs)
			o.ObserveInt64(size, s.TotalSizeBytes, attrs)
		}
		return nil
	}, entries, size)
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext extracts trace ID from context for logging correlation
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}
