package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// PartitionRepository manages the partition descriptors and the physical partition tables.
type PartitionRepository interface {
	// Active returns the partition currently receiving new Operations.
	Active(ctx context.Context) (*model.Partition, error)

	// Find returns a partition descriptor by number.
	Find(ctx context.Context, number int64) (*model.Partition, error)

	// ListAttached returns attached partitions ordered by number ascending.
	ListAttached(ctx context.Context) ([]*model.Partition, error)

	// Bootstrap creates partition 1 as active when no descriptor exists yet.
	Bootstrap(ctx context.Context, now time.Time) (*model.Partition, error)

	// EnsureTables creates the Operation and Batch tables of a partition if missing.
	EnsureTables(ctx context.Context, number int64) error

	// SwapActive makes next the active partition if from is still active.
	// It returns false when another opener already moved the active partition.
	SwapActive(ctx context.Context, from, next int64, now time.Time) (bool, error)

	// DropTables removes the physical tables of a partition.
	DropTables(ctx context.Context, number int64) error

	// MarkDetached stamps detached_at on a partition descriptor.
	MarkDetached(ctx context.Context, number int64, now time.Time) error
}

// ErrPartitionNotFound is returned when a partition descriptor does not exist.
var ErrPartitionNotFound = errors.New("partition not found")

func init() {
	exception.RegisterErrorType("ErrPartitionNotFound", ErrPartitionNotFound)
}
