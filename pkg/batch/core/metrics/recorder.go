package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// MetricRecorder records scheduler metrics independently of the metrics backend
// (Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordOperationTransition records an Operation leaving from for its current status.
	RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus)

	// RecordBatchEnd records a Batch that reached succeeded or failed.
	RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch)

	// RecordPacing records the current pacing fields of an Operation.
	RecordPacing(ctx context.Context, op *model.Operation)

	// RecordHealthSignal records one health indicator reading for an Operation.
	RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool)

	// RecordPartitionOpened records that partition number became active on a connection.
	RecordPartitionOpened(ctx context.Context, connection string, number int64)

	// RecordPartitionDetached records that partition number was archived and dropped.
	RecordPartitionDetached(ctx context.Context, connection string, number int64)

	// RecordDuration records an arbitrary timed section.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
