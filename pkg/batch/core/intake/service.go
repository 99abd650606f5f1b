package intake

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"

	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const module = "intake"

// StrategyCatalog reports whether a batching strategy name is known.
type StrategyCatalog interface {
	Has(name string) bool
}

// Service records backfill requests as queued Operations.
type Service struct {
	stores       repository.StoreRegistry
	router       *ConnectionRouter
	strategies   StrategyCatalog
	clock        clock.Clock
	maxBatchSize int64
}

// ServiceParams are the Fx dependencies of NewService.
type ServiceParams struct {
	fx.In
	Stores     repository.StoreRegistry
	Router     *ConnectionRouter
	Strategies StrategyCatalog
	Clock      clock.Clock
	Cfg        *config.Config
}

// NewService creates a new intake Service.
func NewService(p ServiceParams) *Service {
	return &Service{
		stores:       p.Stores,
		router:       p.Router,
		strategies:   p.Strategies,
		clock:        p.Clock,
		maxBatchSize: p.Cfg.Backfill.Optimizer.MaxBatchSize,
	}
}

// Enqueue validates req and creates the Operation in the active partition of the database
// owning the target table. If an unfinished Operation already exists for the same
// (job type, table, column, arguments) it returns (nil, nil) and creates nothing.
func (s *Service) Enqueue(ctx context.Context, req Request) (*model.Operation, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	connection := req.Connection
	if connection == "" {
		connection = s.router.Route(req.TableName, req.Schema)
	}
	store, err := s.stores.Store(connection)
	if err != nil {
		return nil, exception.NewBackfillError(module, fmt.Sprintf("no store for connection '%s'", connection), err, false)
	}

	op := s.newOperation(req, connection)
	identity := op.Identity()

	var created *model.Operation
	err = tx.RunInTx(ctx, store.TxManager(), func(ctx context.Context) error {
		existing, err := store.Operations().FindUnfinishedByIdentity(ctx, identity)
		if err == nil {
			logger.Infof("Skipping enqueue of %s: Operation %s is still %s in partition %d.",
				identity, existing.ID, existing.Status, existing.Partition)
			return nil
		}
		if !errors.Is(err, repository.ErrOperationNotFound) {
			return err
		}

		if op.MinCursor.IsEmpty() || op.MaxCursor.IsEmpty() {
			t, ok := tx.FromContext(ctx)
			if !ok {
				return exception.NewBackfillErrorf(module, "no transaction to read key bounds of %s.%s on connection '%s'",
					req.TableName, req.ColumnName, connection)
			}
			lo, hi, err := keyBounds(ctx, t, req.TableName, req.ColumnName)
			if err != nil {
				return exception.NewBackfillError(module, fmt.Sprintf("failed to read key bounds of %s.%s", req.TableName, req.ColumnName), err, true)
			}
			if op.MinCursor.IsEmpty() {
				op.MinCursor = lo
			}
			if op.MaxCursor.IsEmpty() {
				op.MaxCursor = hi
			}
			if lo.IsEmpty() {
				// empty table: nothing to hand out, the first tick concludes the Operation
				op.MinCursor, op.MaxCursor = nil, nil
			}
		}
		op.NextCursor = op.MinCursor.Copy()

		active, err := store.Partitions().Active(ctx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		op.Partition = active.Number
		op.CreatedAt = now
		op.UpdatedAt = now
		if err := store.Operations().Create(ctx, op); err != nil {
			return err
		}
		created = op
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		logger.Infof("Enqueued Operation %s for %s on '%s' (partition %d, range %s).",
			created.ID, identity, connection, created.Partition, created.Range())
	}
	return created, nil
}

func (s *Service) newOperation(req Request, connection string) *model.Operation {
	t := req.Overrides
	op := &model.Operation{
		ID:                   model.NewID(),
		JobType:              req.JobType,
		TableName:            req.TableName,
		ColumnName:           req.ColumnName,
		Arguments:            req.Arguments,
		Connection:           connection,
		Schema:               req.Schema,
		MinCursor:            t.MinCursor.Copy(),
		MaxCursor:            t.MaxCursor.Copy(),
		BatchSize:            model.DefaultBatchSize,
		SubBatchSize:         model.DefaultSubBatchSize,
		MaxBatchSize:         s.maxBatchSize,
		Interval:             model.DefaultInterval,
		PauseMS:              model.DefaultPauseMS,
		BatchingStrategyName: model.DefaultBatchingStrategy,
		Status:               model.OperationQueued,
	}
	if op.Arguments == nil {
		op.Arguments = model.Arguments{}
	}
	if t.BatchSize != nil {
		op.BatchSize = *t.BatchSize
	}
	if t.SubBatchSize != nil {
		op.SubBatchSize = *t.SubBatchSize
	}
	if t.MaxBatchSize != nil {
		op.MaxBatchSize = *t.MaxBatchSize
	}
	if t.Interval != nil {
		op.Interval = *t.Interval
	}
	if t.PauseMS != nil {
		op.PauseMS = *t.PauseMS
	}
	if t.BatchingStrategy != "" {
		op.BatchingStrategyName = t.BatchingStrategy
	}
	if req.Requester != nil {
		op.OrganizationID = req.Requester.OrganizationID
		op.RequestedBy = req.Requester.UserID
	}
	if op.MaxBatchSize > 0 && op.MaxBatchSize < op.BatchSize {
		op.MaxBatchSize = op.BatchSize
	}
	op.EnforceFloors()
	return op
}

// validate rejects requests before anything is read or written. Interval below the floor
// is raised by EnforceFloors instead.
func (s *Service) validate(req Request) error {
	switch {
	case req.JobType == "":
		return exception.NewValidationError(module, "job type is required")
	case req.TableName == "":
		return exception.NewValidationError(module, "table name is required")
	case req.ColumnName == "":
		return exception.NewValidationError(module, "column name is required")
	}

	t := req.Overrides
	batchSize := model.DefaultBatchSize
	if t.BatchSize != nil {
		if *t.BatchSize <= 0 {
			return exception.NewValidationError(module, "batch size must be positive, got %d", *t.BatchSize)
		}
		batchSize = *t.BatchSize
	}
	subBatchSize := model.DefaultSubBatchSize
	if t.SubBatchSize != nil {
		if *t.SubBatchSize <= 0 {
			return exception.NewValidationError(module, "sub-batch size must be positive, got %d", *t.SubBatchSize)
		}
		subBatchSize = *t.SubBatchSize
	}
	if subBatchSize > batchSize {
		return exception.NewValidationError(module, "sub-batch size %d exceeds batch size %d", subBatchSize, batchSize)
	}
	if t.MaxBatchSize != nil && *t.MaxBatchSize < batchSize {
		return exception.NewValidationError(module, "max batch size %d is below batch size %d", *t.MaxBatchSize, batchSize)
	}
	if t.PauseMS != nil && *t.PauseMS < model.MinPauseMS {
		return exception.NewValidationError(module, "pause_ms %d is below the minimum of %d", *t.PauseMS, model.MinPauseMS)
	}
	if t.BatchingStrategy != "" && s.strategies != nil && !s.strategies.Has(t.BatchingStrategy) {
		return exception.NewValidationError(module, "unknown batching strategy %q", t.BatchingStrategy)
	}
	if !t.MinCursor.IsEmpty() && !t.MaxCursor.IsEmpty() && t.MinCursor.Compare(t.MaxCursor) > 0 {
		return exception.NewValidationError(module, "min cursor %s is above max cursor %s", t.MinCursor, t.MaxCursor)
	}
	return nil
}
