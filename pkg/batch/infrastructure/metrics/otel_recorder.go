package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
)

// OpenTelemetryRecorder is an OpenTelemetry Metrics implementation of metrics.MetricRecorder.
type OpenTelemetryRecorder struct {
	transitions        otelmetric.Int64Counter
	batches            otelmetric.Int64Counter
	batchDuration      otelmetric.Float64Histogram
	batchSize          otelmetric.Int64Gauge
	subBatchSize       otelmetric.Int64Gauge
	pauseMS            otelmetric.Int64Gauge
	healthSignals      otelmetric.Int64Counter
	activePartition    otelmetric.Int64Gauge
	partitionsOpened   otelmetric.Int64Counter
	partitionsDetached otelmetric.Int64Counter
	durations          otelmetric.Float64Histogram
}

// NewOpenTelemetryRecorder creates the instruments on a meter of mp.
func NewOpenTelemetryRecorder(mp otelmetric.MeterProvider) (*OpenTelemetryRecorder, error) {
	m := mp.Meter(InstrumentationName)
	r := &OpenTelemetryRecorder{}
	var err error
	if r.transitions, err = m.Int64Counter("backfill.operation.transitions"); err != nil {
		return nil, err
	}
	if r.batches, err = m.Int64Counter("backfill.batches"); err != nil {
		return nil, err
	}
	if r.batchDuration, err = m.Float64Histogram("backfill.batch.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.batchSize, err = m.Int64Gauge("backfill.operation.batch_size"); err != nil {
		return nil, err
	}
	if r.subBatchSize, err = m.Int64Gauge("backfill.operation.sub_batch_size"); err != nil {
		return nil, err
	}
	if r.pauseMS, err = m.Int64Gauge("backfill.operation.pause", otelmetric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.healthSignals, err = m.Int64Counter("backfill.health.signals"); err != nil {
		return nil, err
	}
	if r.activePartition, err = m.Int64Gauge("backfill.partition.active"); err != nil {
		return nil, err
	}
	if r.partitionsOpened, err = m.Int64Counter("backfill.partition.opened"); err != nil {
		return nil, err
	}
	if r.partitionsDetached, err = m.Int64Counter("backfill.partition.detached"); err != nil {
		return nil, err
	}
	if r.durations, err = m.Float64Histogram("backfill.section.duration", otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

func pacingAttributes(op *model.Operation) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(
		attribute.String("connection", op.Connection),
		attribute.String("table_name", op.TableName),
		attribute.String("job_type", op.JobType),
	)
}

func (r *OpenTelemetryRecorder) RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	r.transitions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("connection", op.Connection),
		attribute.String("job_type", op.JobType),
		attribute.String("from", string(from)),
		attribute.String("to", string(op.Status)),
	))
}

func (r *OpenTelemetryRecorder) RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch) {
	attrs := otelmetric.WithAttributes(
		attribute.String("connection", op.Connection),
		attribute.String("job_type", op.JobType),
		attribute.String("status", string(b.Status)),
	)
	r.batches.Add(ctx, 1, attrs)
	if b.StartedAt != nil && b.FinishedAt != nil {
		r.batchDuration.Record(ctx, b.Duration().Seconds(), attrs)
	}
}

func (r *OpenTelemetryRecorder) RecordPacing(ctx context.Context, op *model.Operation) {
	attrs := pacingAttributes(op)
	r.batchSize.Record(ctx, op.BatchSize, attrs)
	r.subBatchSize.Record(ctx, op.SubBatchSize, attrs)
	r.pauseMS.Record(ctx, op.PauseMS, attrs)
}

func (r *OpenTelemetryRecorder) RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool) {
	r.healthSignals.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("connection", op.Connection),
		attribute.String("indicator", indicator),
		attribute.Bool("stop", stop),
	))
}

func (r *OpenTelemetryRecorder) RecordPartitionOpened(ctx context.Context, connection string, number int64) {
	attrs := otelmetric.WithAttributes(attribute.String("connection", connection))
	r.partitionsOpened.Add(ctx, 1, attrs)
	r.activePartition.Record(ctx, number, attrs)
}

func (r *OpenTelemetryRecorder) RecordPartitionDetached(ctx context.Context, connection string, number int64) {
	r.partitionsDetached.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("connection", connection)))
}

func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("name", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
