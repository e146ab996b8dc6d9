package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"devharvest/internal/config"
)

const (
	ServiceName = "devharvest"
	MeterName   = "devharvest"
)

// OTelProviders holds the OpenTelemetry providers for one process
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Metrics        *HarvestMetrics
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics according to cfg. Disabled
// exporters fall back to no-op providers so callers never check for nil.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	res, err := createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
	}

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	metrics, err := NewHarvestMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create harvest metrics: %w", err)
	}
	providers.Metrics = metrics

	logger.InfoContext(ctx, "telemetry_initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource() (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(config.AppVersion),
		attribute.String("service.instance.id", fmt.Sprintf("%s-%d", hostname, time.Now().Unix())),
	), nil
}

func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(config.AppVersion))
		otel.SetTracerProvider(tp)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	providers.Logger.DebugContext(ctx, "tracing_initialized", slog.String("exporter", cfg.TraceExporter))
	return nil
}

func initializeMetrics(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		providers.PrometheusHTTP = promhttp.Handler()

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(config.AppVersion))
		otel.SetMeterProvider(mp)
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.DebugContext(ctx, "metrics_initialized", slog.String("exporter", cfg.MetricExporter))
	return nil
}

// HarvestMetrics are the pipeline counters and histograms
type HarvestMetrics struct {
	RecordsTotal          metric.Int64Counter
	DownloadsTotal        metric.Int64Counter
	DownloadAttemptsTotal metric.Int64Counter
	SkippedTotal          metric.Int64Counter
	EnrichRowsTotal       metric.Int64Counter
	StageDuration         metric.Float64Histogram
}

// NewHarvestMetrics registers the pipeline instruments on meter
func NewHarvestMetrics(meter metric.Meter) (*HarvestMetrics, error) {
	m := &HarvestMetrics{}
	var err error

	if m.RecordsTotal, err = meter.Int64Counter(
		"harvest_records_total",
		metric.WithDescription("Unique records extracted from exports"),
	); err != nil {
		return nil, err
	}
	if m.DownloadsTotal, err = meter.Int64Counter(
		"harvest_downloads_total",
		metric.WithDescription("Attachment downloads by outcome"),
	); err != nil {
		return nil, err
	}
	if m.DownloadAttemptsTotal, err = meter.Int64Counter(
		"harvest_download_attempts_total",
		metric.WithDescription("Individual download attempts including retries"),
	); err != nil {
		return nil, err
	}
	if m.SkippedTotal, err = meter.Int64Counter(
		"harvest_skipped_total",
		metric.WithDescription("Document rows skipped by reason"),
	); err != nil {
		return nil, err
	}
	if m.EnrichRowsTotal, err = meter.Int64Counter(
		"enrich_rows_total",
		metric.WithDescription("Rows written to enriched reports"),
	); err != nil {
		return nil, err
	}
	if m.StageDuration, err = meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopHarvestMetrics returns instruments that record nothing
func NoopHarvestMetrics() *HarvestMetrics {
	m, _ := NewHarvestMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// RecordDownload counts one finished download target
func (m *HarvestMetrics) RecordDownload(ctx context.Context, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.DownloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if attempts > 0 {
		m.DownloadAttemptsTotal.Add(ctx, int64(attempts))
	}
}

// RecordSkip counts one skipped document row
func (m *HarvestMetrics) RecordSkip(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRecords counts extracted records
func (m *HarvestMetrics) RecordRecords(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsTotal.Add(ctx, int64(n))
}

// RecordEnrichedRows counts rows written by the merger
func (m *HarvestMetrics) RecordEnrichedRows(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EnrichRowsTotal.Add(ctx, int64(n))
}

// RecordStage records a stage duration with its final status
func (m *HarvestMetrics) RecordStage(ctx context.Context, stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

// Shutdown flushes and stops the providers
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

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
