package test

import (
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// NewTestOperation builds a queued Operation over the integer range [min, max] in partition.
func NewTestOperation(partition int64, min, max int64, now time.Time) *model.Operation {
	return &model.Operation{
		ID:                   model.NewID(),
		JobType:              "copy_column",
		TableName:            "events",
		ColumnName:           "id",
		Arguments:            model.Arguments{"src", "dst"},
		Connection:           "main",
		MinCursor:            model.IntCursor(min),
		MaxCursor:            model.IntCursor(max),
		NextCursor:           model.IntCursor(min),
		BatchSize:            100,
		SubBatchSize:         10,
		Interval:             model.MinInterval,
		PauseMS:              model.MinPauseMS,
		BatchingStrategyName: "integer-range",
		Status:               model.OperationQueued,
		Partition:            partition,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// FinishBatch runs b through running into succeeded or, when cause is non-nil, failed.
func FinishBatch(b *model.Batch, now time.Time, cause error) {
	_ = b.MarkRunning(now)
	if cause != nil {
		_ = b.MarkFailed(now, cause)
		return
	}
	_ = b.MarkSucceeded(now)
}
