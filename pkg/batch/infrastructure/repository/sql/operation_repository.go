package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// SQLOperationRepository implements repository.OperationRepository over the partitioned
// operations tables.
type SQLOperationRepository struct {
	conn       adapter.DBConnection
	partitions repository.PartitionRepository
}

// NewSQLOperationRepository creates a new SQLOperationRepository.
func NewSQLOperationRepository(conn adapter.DBConnection, partitions repository.PartitionRepository) *SQLOperationRepository {
	return &SQLOperationRepository{conn: conn, partitions: partitions}
}

// executor returns the transaction in ctx or the plain connection.
func (r *SQLOperationRepository) executor(ctx context.Context) adapter.DBExecutor {
	return tx.ExecutorFrom(ctx, r.conn)
}

func (r *SQLOperationRepository) Create(ctx context.Context, op *model.Operation) error {
	const opName = "SQLOperationRepository.Create"
	if op.Partition < 1 {
		return exception.NewBackfillErrorf(opName, "Operation (ID: %s) has no partition assigned", op.ID)
	}
	entity := fromDomainOperation(op)
	if _, err := r.executor(ctx).ExecuteUpdate(ctx, entity, gormadapter.OpCreate, OperationsTable(op.Partition), nil); err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to save Operation (ID: %s)", op.ID), err, true)
	}
	return nil
}

func (r *SQLOperationRepository) Update(ctx context.Context, op *model.Operation) error {
	const opName = "SQLOperationRepository.Update"

	op.EnforceFloors()
	originalVersion := op.Version
	op.Version++
	entity := fromDomainOperation(op)

	rowsAffected, err := r.executor(ctx).ExecuteUpdate(
		ctx,
		entity,
		gormadapter.OpUpdate,
		OperationsTable(op.Partition),
		map[string]interface{}{"version": originalVersion},
		operationImmutableColumns...,
	)
	if err != nil {
		op.Version = originalVersion
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to update Operation (ID: %s)", op.ID), err, true)
	}
	if rowsAffected == 0 {
		op.Version = originalVersion
		return exception.NewOptimisticLockingFailure(opName,
			fmt.Sprintf("Operation (ID: %s) with version %d not found for update", op.ID, originalVersion))
	}
	return nil
}

func (r *SQLOperationRepository) FindByID(ctx context.Context, partition int64, id string) (*model.Operation, error) {
	const opName = "SQLOperationRepository.FindByID"
	exec := r.executor(ctx)

	var entities []OperationEntity
	err := exec.ExecuteQueryAdvanced(ctx, &entities, OperationsTable(partition), map[string]interface{}{"id": id}, "", 1)
	if err != nil {
		if exec.IsTableNotExistError(err) {
			return nil, fmt.Errorf("%s: partition %d: %w", opName, partition, repository.ErrOperationNotFound)
		}
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to find Operation (ID: %s)", id), err, true)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%s: Operation (ID: %s): %w", opName, id, repository.ErrOperationNotFound)
	}
	return toDomainOperation(&entities[0]), nil
}

func (r *SQLOperationRepository) Find(ctx context.Context, id string) (*model.Operation, error) {
	const opName = "SQLOperationRepository.Find"
	parts, err := r.partitions.ListAttached(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(parts) - 1; i >= 0; i-- {
		op, err := r.FindByID(ctx, parts[i].Number, id)
		if err == nil {
			return op, nil
		}
		if !errors.Is(err, repository.ErrOperationNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: Operation (ID: %s): %w", opName, id, repository.ErrOperationNotFound)
}

func (r *SQLOperationRepository) FindUnfinishedByIdentity(ctx context.Context, identity model.Identity) (*model.Operation, error) {
	const opName = "SQLOperationRepository.FindUnfinishedByIdentity"
	parts, err := r.partitions.ListAttached(ctx)
	if err != nil {
		return nil, err
	}
	exec := r.executor(ctx)
	query := map[string]interface{}{
		"job_type":    identity.JobType,
		"table_name":  identity.TableName,
		"column_name": identity.ColumnName,
		"arguments":   identity.Arguments,
		"status":      operationStatusStrings(model.ExecutableOperationStatuses),
	}
	for _, p := range parts {
		var entities []OperationEntity
		if err := exec.ExecuteQueryAdvanced(ctx, &entities, OperationsTable(p.Number), query, "", 1); err != nil {
			if exec.IsTableNotExistError(err) {
				continue
			}
			return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to search partition %d for %s", p.Number, identity), err, true)
		}
		if len(entities) > 0 {
			return toDomainOperation(&entities[0]), nil
		}
	}
	return nil, fmt.Errorf("%s: %s: %w", opName, identity, repository.ErrOperationNotFound)
}

func (r *SQLOperationRepository) FindSchedulable(ctx context.Context, partition int64, now time.Time, limit int) ([]*model.Operation, error) {
	const opName = "SQLOperationRepository.FindSchedulable"
	exec := r.executor(ctx)

	var entities []OperationEntity
	err := exec.Session(ctx).
		Table(OperationsTable(partition)).
		Where("status IN ?", operationStatusStrings(model.ExecutableOperationStatuses)).
		Where("on_hold_until IS NULL OR on_hold_until <= ?", now.UTC()).
		Order("created_at, id").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		if exec.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to scan partition %d", partition), err, true)
	}
	return toDomainOperations(entities), nil
}

func (r *SQLOperationRepository) FindByStatus(ctx context.Context, statuses []model.OperationStatus, limit int) ([]*model.Operation, error) {
	const opName = "SQLOperationRepository.FindByStatus"
	parts, err := r.partitions.ListAttached(ctx)
	if err != nil {
		return nil, err
	}
	exec := r.executor(ctx)
	var result []*model.Operation
	for _, p := range parts {
		var entities []OperationEntity
		err := exec.ExecuteQueryAdvanced(ctx, &entities, OperationsTable(p.Number),
			map[string]interface{}{"status": operationStatusStrings(statuses)}, "created_at, id", limit)
		if err != nil {
			if exec.IsTableNotExistError(err) {
				continue
			}
			return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to query partition %d", p.Number), err, true)
		}
		result = append(result, toDomainOperations(entities)...)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Partition != result[j].Partition {
			return result[i].Partition < result[j].Partition
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *SQLOperationRepository) ListByPartition(ctx context.Context, partition int64) ([]*model.Operation, error) {
	const opName = "SQLOperationRepository.ListByPartition"
	var entities []OperationEntity
	if err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, OperationsTable(partition), nil, "created_at, id", 0); err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to list partition %d", partition), err, true)
	}
	return toDomainOperations(entities), nil
}

func (r *SQLOperationRepository) CountExecutable(ctx context.Context, partition int64) (int64, error) {
	const opName = "SQLOperationRepository.CountExecutable"
	n, err := r.executor(ctx).Count(ctx, OperationsTable(partition),
		map[string]interface{}{"status": operationStatusStrings(model.ExecutableOperationStatuses)})
	if err != nil {
		return 0, exception.NewBackfillError(opName, fmt.Sprintf("failed to count partition %d", partition), err, true)
	}
	return n, nil
}

func (r *SQLOperationRepository) OldestCreatedAt(ctx context.Context, partition int64) (*time.Time, error) {
	return oldestCreatedAt(ctx, r.executor(ctx), OperationsTable(partition))
}

func toDomainOperations(entities []OperationEntity) []*model.Operation {
	ops := make([]*model.Operation, 0, len(entities))
	for i := range entities {
		ops = append(ops, toDomainOperation(&entities[i]))
	}
	return ops
}

// oldestCreatedAt reads the created_at of the oldest row of table, or nil when it is empty.
// The column is selected directly so drivers keep its declared time type.
func oldestCreatedAt(ctx context.Context, exec adapter.DBExecutor, table string) (*time.Time, error) {
	var rows []struct {
		CreatedAt time.Time
	}
	err := exec.Session(ctx).Table(table).Select("created_at").Order("created_at").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, exception.NewBackfillError("sql.oldestCreatedAt", fmt.Sprintf("failed to read oldest row of %s", table), err, true)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := rows[0].CreatedAt.UTC()
	return &t, nil
}

var _ repository.OperationRepository = (*SQLOperationRepository)(nil)
