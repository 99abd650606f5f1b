package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// BatchSummary counts the Batches of one Operation by state.
type BatchSummary struct {
	Pending   int64
	Running   int64
	Succeeded int64
	Failed    int64
	// Retriable counts failed Batches with attempts left.
	Retriable int64
}

// Total returns the number of Batches.
func (s BatchSummary) Total() int64 {
	return s.Pending + s.Running + s.Succeeded + s.Failed
}

// InFlight reports whether any Batch is still pending or running.
func (s BatchSummary) InFlight() bool {
	return s.Pending+s.Running > 0
}

// BatchRepository persists Batches. Every lookup is scoped to the parent Operation's partition.
type BatchRepository interface {
	Create(ctx context.Context, b *model.Batch) error
	Update(ctx context.Context, b *model.Batch) error

	FindByID(ctx context.Context, partition int64, id string) (*model.Batch, error)

	// FindByOperation returns all Batches of op ordered by creation.
	FindByOperation(ctx context.Context, op *model.Operation) ([]*model.Batch, error)

	// FindPending returns the oldest pending Batch of op, if any.
	FindPending(ctx context.Context, op *model.Operation) (*model.Batch, error)

	// FindOldestRetriable returns the oldest failed Batch of op with attempts left, if any.
	FindOldestRetriable(ctx context.Context, op *model.Operation) (*model.Batch, error)

	// FindRecentFinished returns up to limit finished Batches of op, newest first.
	FindRecentFinished(ctx context.Context, op *model.Operation, limit int) ([]*model.Batch, error)

	// LastAttemptAt returns when op last created a Batch or started an attempt, or nil
	// when op has no Batch yet.
	LastAttemptAt(ctx context.Context, op *model.Operation) (*time.Time, error)

	Summarize(ctx context.Context, op *model.Operation) (BatchSummary, error)

	// ListByPartition returns every Batch stored in a partition.
	ListByPartition(ctx context.Context, partition int64) ([]*model.Batch, error)

	// CountExecutable counts pending and running Batches in a partition.
	CountExecutable(ctx context.Context, partition int64) (int64, error)

	// OldestCreatedAt returns the creation time of the oldest row in a partition, or nil when empty.
	OldestCreatedAt(ctx context.Context, partition int64) (*time.Time, error)
}

// ErrBatchNotFound is returned when a Batch does not exist.
var ErrBatchNotFound = errors.New("batch not found")

func init() {
	exception.RegisterErrorType("ErrBatchNotFound", ErrBatchNotFound)
}
