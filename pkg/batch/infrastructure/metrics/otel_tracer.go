package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
)

// InstrumentationName names the tracer and meter of the scheduler.
const InstrumentationName = "github.com/tigerroll/backfill/scheduler"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from tp.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(InstrumentationName)}
}

func operationAttributes(op *model.Operation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("backfill.operation.id", op.ID),
		attribute.String("backfill.operation.job_type", op.JobType),
		attribute.String("backfill.operation.table", op.TableName),
		attribute.String("backfill.operation.connection", op.Connection),
		attribute.Int64("backfill.operation.partition", op.Partition),
	}
}

func (t *OpenTelemetryTracer) StartTickSpan(ctx context.Context, op *model.Operation) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "backfill.tick", trace.WithAttributes(operationAttributes(op)...))
	return ctx, func() {
		span.SetAttributes(attribute.String("backfill.operation.status", string(op.Status)))
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, op *model.Operation, b *model.Batch) (context.Context, func()) {
	attrs := append(operationAttributes(op),
		attribute.String("backfill.batch.id", b.ID),
		attribute.String("backfill.batch.min", b.MinCursor.String()),
		attribute.String("backfill.batch.max", b.MaxCursor.String()),
		attribute.Int("backfill.batch.attempt", b.Attempts+1),
	)
	ctx, span := t.tracer.Start(ctx, "backfill.batch", trace.WithAttributes(attrs...))
	return ctx, func() {
		span.SetAttributes(attribute.String("backfill.batch.status", string(b.Status)))
		if b.Status == model.BatchFailed {
			span.SetStatus(codes.Error, b.ErrorMessage)
		}
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartMaintenanceSpan(ctx context.Context, connection string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "backfill.partition.maintain",
		trace.WithAttributes(attribute.String("backfill.connection", connection)))
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("backfill.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
