package operations

import (
	"context"
	"fmt"
	"time"

	"devharvest/internal/infrastructure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "devharvest.pipeline"
)

// OperationTracer provides OpenTelemetry instrumentation for pipeline runs
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.HarvestMetrics
}

// NewOperationTracer creates a tracer bound to the given providers. Nil
// providers fall back to the global tracer and no metrics.
func NewOperationTracer(providers *infrastructure.OTelProviders) *OperationTracer {
	pt := &OperationTracer{tracer: otel.Tracer(TracerName)}
	if providers != nil {
		if providers.TracerProvider != nil {
			pt.tracer = providers.TracerProvider.Tracer(TracerName)
		}
		pt.metrics = providers.Metrics
	}
	return pt
}

// TraceOperationExecution creates a span for the entire run
func (pt *OperationTracer) TraceOperationExecution(ctx context.Context, req Request) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", req.ID),
			attribute.Int("operation.days", req.Days),
			attribute.Bool("operation.skip_export", req.SkipExport),
			attribute.Bool("operation.skip_harvest", req.SkipHarvest),
			attribute.Bool("operation.skip_enrich", req.SkipEnrich),
			attribute.Int("operation.max_records", req.MaxRecords),
		),
	)
}

// TraceStageExecution creates a span for one Step
func (pt *OperationTracer) TraceStageExecution(ctx context.Context, operationID, stageID string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, fmt.Sprintf("pipeline.step.%s", stageID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("step.id", stageID),
		),
	)
}

// RecordStageCompletion closes out a Step span and records its duration
func (pt *OperationTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stageID string, status StepStatus, duration time.Duration, err error) {
	span.SetAttributes(
		attribute.String("step.status", string(status)),
		attribute.Float64("step.duration_seconds", duration.Seconds()),
	)

	switch status {
	case StepStatusFailed:
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "step execution failed")
	default:
		span.SetStatus(codes.Ok, string(status))
	}

	pt.metrics.RecordStage(ctx, stageID, string(status), duration)
}

// RecordOperationCompletion closes out the run span
func (pt *OperationTracer) RecordOperationCompletion(ctx context.Context, span trace.Span, resp *Response, err error) {
	span.SetAttributes(
		attribute.String("operation.status", string(resp.Status)),
		attribute.Float64("operation.duration_seconds", resp.Duration.Seconds()),
		attribute.Int("operation.records", resp.Records),
		attribute.Int("operation.downloads", resp.Downloads),
		attribute.Int("operation.failures", resp.Failures),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "pipeline completed")
}
