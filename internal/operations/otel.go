package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bfintake/internal/infrastructure"
)

const (
	TracerName = "bfintake.pipeline"
)

// pipelineTracer provides OpenTelemetry instrumentation for batch runs
type pipelineTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

func newPipelineTracer(tracer trace.Tracer, metrics *infrastructure.PipelineMetrics) *pipelineTracer {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &pipelineTracer{tracer: tracer, metrics: metrics}
}

// traceBatch creates a span for a whole batch call
func (pt *pipelineTracer) traceBatch(ctx context.Context, operation, batchID string, files int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.String("batch.operation", operation),
			attribute.Int("batch.files", files),
		),
	)
}

// traceFile creates a span for one file within a batch
func (pt *pipelineTracer) traceFile(ctx context.Context, operation, filename string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline."+operation+".file",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("file.name", filename),
		),
	)
}

// finishFile closes a file span and records its metrics
func (pt *pipelineTracer) finishFile(ctx context.Context, span trace.Span, operation string, state FileState, err error, d time.Duration, folded, skipped int) {
	status := "success"
	if err != nil {
		status = "failed"
		infrastructure.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("file.state", string(state)),
		attribute.Int("file.records_folded", folded),
		attribute.Int("file.records_skipped", skipped),
	)
	span.End()
	pt.metrics.RecordFile(ctx, operation, status, d, folded, skipped)
}

// finishBatch closes a batch span
func (pt *pipelineTracer) finishBatch(span trace.Span, successful, failed int, started time.Time) {
	span.SetAttributes(
		attribute.Int("batch.successful", successful),
		attribute.Int("batch.failed", failed),
		attribute.Float64("batch.duration_seconds", time.Since(started).Seconds()),
	)
	span.End()
}
