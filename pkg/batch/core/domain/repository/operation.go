package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// OperationRepository persists Operations into the partition given by Operation.Partition.
type OperationRepository interface {
	// Create inserts a new Operation. Partition must already be assigned.
	Create(ctx context.Context, op *model.Operation) error

	// Update saves the mutable fields of op guarded by its version.
	// Pacing floors are enforced before writing and the partition column is never written.
	Update(ctx context.Context, op *model.Operation) error

	// FindByID loads an Operation from a known partition.
	FindByID(ctx context.Context, partition int64, id string) (*model.Operation, error)

	// Find loads an Operation by id from any attached partition.
	Find(ctx context.Context, id string) (*model.Operation, error)

	// FindUnfinishedByIdentity returns the unfinished Operation for the identity tuple,
	// searching every attached partition.
	FindUnfinishedByIdentity(ctx context.Context, identity model.Identity) (*model.Operation, error)

	// FindSchedulable returns up to limit Operations of one partition that are queued,
	// active or paused and not on hold at now, ordered by (created_at, id).
	FindSchedulable(ctx context.Context, partition int64, now time.Time, limit int) ([]*model.Operation, error)

	// FindByStatus returns Operations in the given states across attached partitions.
	FindByStatus(ctx context.Context, statuses []model.OperationStatus, limit int) ([]*model.Operation, error)

	// ListByPartition returns every Operation stored in a partition.
	ListByPartition(ctx context.Context, partition int64) ([]*model.Operation, error)

	// CountExecutable counts queued, active and paused Operations in a partition.
	CountExecutable(ctx context.Context, partition int64) (int64, error)

	// OldestCreatedAt returns the creation time of the oldest row in a partition, or nil when empty.
	OldestCreatedAt(ctx context.Context, partition int64) (*time.Time, error)
}

// ErrOperationNotFound is returned when an Operation does not exist.
var ErrOperationNotFound = errors.New("operation not found")

func init() {
	exception.RegisterErrorType("ErrOperationNotFound", ErrOperationNotFound)
}
