package sql

import (
	"context"
	"fmt"
	"time"

	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// SQLBatchRepository implements repository.BatchRepository. A Batch is always read from and
// written to the batches table of its Operation's partition.
type SQLBatchRepository struct {
	conn adapter.DBConnection
}

// NewSQLBatchRepository creates a new SQLBatchRepository.
func NewSQLBatchRepository(conn adapter.DBConnection) *SQLBatchRepository {
	return &SQLBatchRepository{conn: conn}
}

func (r *SQLBatchRepository) executor(ctx context.Context) adapter.DBExecutor {
	return tx.ExecutorFrom(ctx, r.conn)
}

func (r *SQLBatchRepository) Create(ctx context.Context, b *model.Batch) error {
	const opName = "SQLBatchRepository.Create"
	if b.Partition < 1 {
		return exception.NewBackfillErrorf(opName, "Batch (ID: %s) has no partition assigned", b.ID)
	}
	if _, err := r.executor(ctx).ExecuteUpdate(ctx, fromDomainBatch(b), gormadapter.OpCreate, BatchesTable(b.Partition), nil); err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to save Batch (ID: %s)", b.ID), err, true)
	}
	return nil
}

func (r *SQLBatchRepository) Update(ctx context.Context, b *model.Batch) error {
	const opName = "SQLBatchRepository.Update"
	rowsAffected, err := r.executor(ctx).ExecuteUpdate(
		ctx, fromDomainBatch(b), gormadapter.OpUpdate, BatchesTable(b.Partition), nil, batchImmutableColumns...)
	if err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to update Batch (ID: %s)", b.ID), err, true)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: Batch (ID: %s) in partition %d: %w", opName, b.ID, b.Partition, repository.ErrBatchNotFound)
	}
	return nil
}

func (r *SQLBatchRepository) FindByID(ctx context.Context, partition int64, id string) (*model.Batch, error) {
	const opName = "SQLBatchRepository.FindByID"
	b, err := r.findOne(ctx, opName, partition, map[string]interface{}{"id": id}, "")
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%s: Batch (ID: %s): %w", opName, id, repository.ErrBatchNotFound)
	}
	return b, nil
}

func (r *SQLBatchRepository) FindByOperation(ctx context.Context, op *model.Operation) ([]*model.Batch, error) {
	const opName = "SQLBatchRepository.FindByOperation"
	var entities []BatchEntity
	err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, BatchesTable(op.Partition),
		map[string]interface{}{"operation_id": op.ID}, "created_at, id", 0)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to list Batches of Operation (ID: %s)", op.ID), err, true)
	}
	return toDomainBatches(entities), nil
}

func (r *SQLBatchRepository) FindPending(ctx context.Context, op *model.Operation) (*model.Batch, error) {
	return r.findOne(ctx, "SQLBatchRepository.FindPending", op.Partition,
		map[string]interface{}{"operation_id": op.ID, "status": string(model.BatchPending)}, "created_at, id")
}

func (r *SQLBatchRepository) FindOldestRetriable(ctx context.Context, op *model.Operation) (*model.Batch, error) {
	const opName = "SQLBatchRepository.FindOldestRetriable"
	var entities []BatchEntity
	err := r.executor(ctx).Session(ctx).
		Table(BatchesTable(op.Partition)).
		Where("operation_id = ? AND status = ? AND attempts < ?", op.ID, string(model.BatchFailed), model.MaxAttempts).
		Order("created_at, id").
		Limit(1).
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to find retriable Batch of Operation (ID: %s)", op.ID), err, true)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return toDomainBatch(&entities[0]), nil
}

func (r *SQLBatchRepository) FindRecentFinished(ctx context.Context, op *model.Operation, limit int) ([]*model.Batch, error) {
	const opName = "SQLBatchRepository.FindRecentFinished"
	var entities []BatchEntity
	err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, BatchesTable(op.Partition),
		map[string]interface{}{
			"operation_id": op.ID,
			"status":       batchStatusStrings([]model.BatchStatus{model.BatchSucceeded, model.BatchFailed}),
		},
		"finished_at DESC, created_at DESC, id DESC", limit)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to list recent Batches of Operation (ID: %s)", op.ID), err, true)
	}
	return toDomainBatches(entities), nil
}

func (r *SQLBatchRepository) LastAttemptAt(ctx context.Context, op *model.Operation) (*time.Time, error) {
	const opName = "SQLBatchRepository.LastAttemptAt"
	created, err := r.findOne(ctx, opName, op.Partition,
		map[string]interface{}{"operation_id": op.ID}, "created_at DESC, id DESC")
	if err != nil || created == nil {
		return nil, err
	}
	last := created.CreatedAt

	var entities []BatchEntity
	err = r.executor(ctx).Session(ctx).
		Table(BatchesTable(op.Partition)).
		Where("operation_id = ? AND started_at IS NOT NULL", op.ID).
		Order("started_at DESC, id DESC").
		Limit(1).
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to read last attempt of Operation (ID: %s)", op.ID), err, true)
	}
	if len(entities) > 0 && entities[0].StartedAt != nil && entities[0].StartedAt.After(last) {
		last = *entities[0].StartedAt
	}
	return &last, nil
}

func (r *SQLBatchRepository) Summarize(ctx context.Context, op *model.Operation) (repository.BatchSummary, error) {
	const opName = "SQLBatchRepository.Summarize"
	var rows []struct {
		Status   string
		Attempts int
		N        int64
	}
	err := r.executor(ctx).Session(ctx).
		Table(BatchesTable(op.Partition)).
		Select("status, attempts, COUNT(*) AS n").
		Where("operation_id = ?", op.ID).
		Group("status, attempts").
		Scan(&rows).Error
	if err != nil {
		return repository.BatchSummary{}, exception.NewBackfillError(opName, fmt.Sprintf("failed to summarize Batches of Operation (ID: %s)", op.ID), err, true)
	}

	var s repository.BatchSummary
	for _, row := range rows {
		switch model.BatchStatus(row.Status) {
		case model.BatchPending:
			s.Pending += row.N
		case model.BatchRunning:
			s.Running += row.N
		case model.BatchSucceeded:
			s.Succeeded += row.N
		case model.BatchFailed:
			s.Failed += row.N
			if row.Attempts < model.MaxAttempts {
				s.Retriable += row.N
			}
		}
	}
	return s, nil
}

func (r *SQLBatchRepository) ListByPartition(ctx context.Context, partition int64) ([]*model.Batch, error) {
	const opName = "SQLBatchRepository.ListByPartition"
	var entities []BatchEntity
	if err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, BatchesTable(partition), nil, "created_at, id", 0); err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to list partition %d", partition), err, true)
	}
	return toDomainBatches(entities), nil
}

func (r *SQLBatchRepository) CountExecutable(ctx context.Context, partition int64) (int64, error) {
	const opName = "SQLBatchRepository.CountExecutable"
	n, err := r.executor(ctx).Count(ctx, BatchesTable(partition),
		map[string]interface{}{"status": batchStatusStrings(model.ExecutableBatchStatuses)})
	if err != nil {
		return 0, exception.NewBackfillError(opName, fmt.Sprintf("failed to count partition %d", partition), err, true)
	}
	return n, nil
}

func (r *SQLBatchRepository) OldestCreatedAt(ctx context.Context, partition int64) (*time.Time, error) {
	return oldestCreatedAt(ctx, r.executor(ctx), BatchesTable(partition))
}

func (r *SQLBatchRepository) findOne(ctx context.Context, opName string, partition int64, query map[string]interface{}, orderBy string) (*model.Batch, error) {
	var entities []BatchEntity
	if err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, BatchesTable(partition), query, orderBy, 1); err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to query partition %d", partition), err, true)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return toDomainBatch(&entities[0]), nil
}

func toDomainBatches(entities []BatchEntity) []*model.Batch {
	batches := make([]*model.Batch, 0, len(entities))
	for i := range entities {
		batches = append(batches, toDomainBatch(&entities[i]))
	}
	return batches
}

var _ repository.BatchRepository = (*SQLBatchRepository)(nil)
