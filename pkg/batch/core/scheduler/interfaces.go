// Package scheduler advances Operations one Batch at a time: it carves the next key range,
// hands it to the executor, and adjusts pacing or state from the outcome and from health
// signals.
package scheduler

import (
	"context"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// BatchRequest asks a BatchingStrategy for the key range following From.
type BatchRequest struct {
	Connection string
	TableName  string
	ColumnName string
	// From is the first position not yet handed out.
	From model.Cursor
	// Max is the upper bound of the Operation; strategies may stop scanning there.
	Max       model.Cursor
	BatchSize int64
	JobType   string
	Arguments model.Arguments
}

// BatchingStrategy carves the next key sub-range of an Operation. A nil range means the
// key space is exhausted. It is called inside the scheduling transaction, so reads of the
// target table must go through tx.ExecutorFrom.
type BatchingStrategy interface {
	NextBatch(ctx context.Context, req BatchRequest) (*model.CursorRange, error)
}

// Executor performs the mutation of one Batch. It moves the Batch to succeeded or failed
// and stamps FinishedAt. Failures of the work itself are recorded on the Batch; an error
// return means the executor could not run at all.
type Executor interface {
	Perform(ctx context.Context, b *model.Batch, op *model.Operation) error
}

// HealthContext describes what a health evaluation is about.
type HealthContext struct {
	Connection string
	Tables     []string
	Operation  *model.Operation
}

// Signal is one health indicator reading.
type Signal struct {
	Indicator string
	// Stop asks the scheduler to back off.
	Stop bool
	// Unavailable marks an indicator that could not be read. It never stops work.
	Unavailable bool
	Reason      string
}

// HealthEvaluator reads every configured health indicator.
type HealthEvaluator interface {
	Evaluate(ctx context.Context, hc HealthContext) ([]Signal, error)
}

// StopPolicy decides whether an Operation must fail after a failed Batch.
type StopPolicy interface {
	ShouldStop(op *model.Operation, recent []*model.Batch) bool
}

// Optimizer adjusts the pacing fields of an Operation from its recent Batches.
type Optimizer interface {
	Optimize(ctx context.Context, op *model.Operation, recent []*model.Batch) error
}

// OperationListener observes the scheduler.
type OperationListener interface {
	OnOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus)
	OnBatchFinished(ctx context.Context, op *model.Operation, b *model.Batch)
	OnHealthEvaluated(ctx context.Context, op *model.Operation, signals []Signal)
	OnPacingAdjusted(ctx context.Context, op *model.Operation, previousBatchSize int64)
}
