package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
}
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch) {
}
func (r *NoOpMetricRecorder) RecordPacing(ctx context.Context, op *model.Operation) {}
func (r *NoOpMetricRecorder) RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool) {
}
func (r *NoOpMetricRecorder) RecordPartitionOpened(ctx context.Context, connection string, number int64) {
}
func (r *NoOpMetricRecorder) RecordPartitionDetached(ctx context.Context, connection string, number int64) {
}
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartTickSpan(ctx context.Context, op *model.Operation) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, op *model.Operation, b *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartMaintenanceSpan(ctx context.Context, connection string) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
