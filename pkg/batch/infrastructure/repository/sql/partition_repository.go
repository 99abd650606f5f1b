package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// errSwapLost signals that another opener moved the active partition first.
var errSwapLost = errors.New("active partition already moved")

// SQLPartitionRepository implements repository.PartitionRepository.
// Descriptors live in backfill_partitions, which is created by the migrations.
type SQLPartitionRepository struct {
	conn adapter.DBConnection
	tm   tx.TransactionManager
}

// NewSQLPartitionRepository creates a new SQLPartitionRepository.
func NewSQLPartitionRepository(conn adapter.DBConnection, tm tx.TransactionManager) *SQLPartitionRepository {
	return &SQLPartitionRepository{conn: conn, tm: tm}
}

func (r *SQLPartitionRepository) executor(ctx context.Context) adapter.DBExecutor {
	return tx.ExecutorFrom(ctx, r.conn)
}

func (r *SQLPartitionRepository) Active(ctx context.Context) (*model.Partition, error) {
	const opName = "SQLPartitionRepository.Active"
	var entities []PartitionEntity
	// MySQL has no partial unique index, so the highest active number wins if two rows ever are.
	err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, PartitionsTable,
		map[string]interface{}{"active": true}, "number DESC", 1)
	if err != nil {
		return nil, exception.NewBackfillError(opName, "failed to read the active partition", err, true)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%s: no active partition: %w", opName, repository.ErrPartitionNotFound)
	}
	return toDomainPartition(&entities[0]), nil
}

func (r *SQLPartitionRepository) Find(ctx context.Context, number int64) (*model.Partition, error) {
	const opName = "SQLPartitionRepository.Find"
	var entities []PartitionEntity
	err := r.executor(ctx).ExecuteQueryAdvanced(ctx, &entities, PartitionsTable,
		map[string]interface{}{"number": number}, "", 1)
	if err != nil {
		return nil, exception.NewBackfillError(opName, fmt.Sprintf("failed to read partition %d", number), err, true)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%s: partition %d: %w", opName, number, repository.ErrPartitionNotFound)
	}
	return toDomainPartition(&entities[0]), nil
}

func (r *SQLPartitionRepository) ListAttached(ctx context.Context) ([]*model.Partition, error) {
	const opName = "SQLPartitionRepository.ListAttached"
	var entities []PartitionEntity
	err := r.executor(ctx).Session(ctx).
		Table(PartitionsTable).
		Where("detached_at IS NULL").
		Order("number").
		Find(&entities).Error
	if err != nil {
		return nil, exception.NewBackfillError(opName, "failed to list attached partitions", err, true)
	}
	parts := make([]*model.Partition, 0, len(entities))
	for i := range entities {
		parts = append(parts, toDomainPartition(&entities[i]))
	}
	return parts, nil
}

func (r *SQLPartitionRepository) Bootstrap(ctx context.Context, now time.Time) (*model.Partition, error) {
	const opName = "SQLPartitionRepository.Bootstrap"
	exec := r.executor(ctx)
	n, err := exec.Count(ctx, PartitionsTable, nil)
	if err != nil {
		return nil, exception.NewBackfillError(opName, "failed to count partitions", err, true)
	}
	if n == 0 {
		if err := r.EnsureTables(ctx, 1); err != nil {
			return nil, err
		}
		created, err := exec.ExecuteUpsert(ctx, &PartitionEntity{Number: 1, Active: true, CreatedAt: now.UTC()},
			PartitionsTable, []string{"number"}, nil)
		if err != nil {
			return nil, exception.NewBackfillError(opName, "failed to create partition 1", err, true)
		}
		if created > 0 {
			logger.Infof("Bootstrapped partition 1 on connection '%s'.", r.conn.Name())
		}
	}
	return r.Active(ctx)
}

func (r *SQLPartitionRepository) EnsureTables(ctx context.Context, number int64) error {
	if err := r.ensureTable(ctx, OperationsTable(number), &OperationEntity{}, operationIndexes); err != nil {
		return err
	}
	return r.ensureTable(ctx, BatchesTable(number), &BatchEntity{}, batchIndexes)
}

// ensureTable creates table and its indexes unless they exist. A creation error is ignored
// when the object exists afterwards, which is what a concurrent creator leaves behind.
func (r *SQLPartitionRepository) ensureTable(ctx context.Context, table string, entity interface{}, indexes []tableIndex) error {
	const opName = "SQLPartitionRepository.EnsureTables"
	db := r.executor(ctx).Session(ctx)

	if !db.Migrator().HasTable(table) {
		if err := db.Table(table).Migrator().CreateTable(entity); err != nil {
			if !db.Migrator().HasTable(table) {
				return exception.NewBackfillError(opName, fmt.Sprintf("failed to create table %s", table), err, true)
			}
		} else {
			logger.Infof("Created partition table %s.", table)
		}
	}

	for _, idx := range indexes {
		name := fmt.Sprintf("idx_%s_%s", table, idx.suffix)
		if db.Migrator().HasIndex(table, name) {
			continue
		}
		if err := createIndex(db, name, table, idx.columns); err != nil {
			if !db.Migrator().HasIndex(table, name) {
				return exception.NewBackfillError(opName, fmt.Sprintf("failed to create index %s", name), err, true)
			}
		}
	}
	return nil
}

func createIndex(db *gorm.DB, name, table, columns string) error {
	return db.Exec(fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, columns)).Error
}

func (r *SQLPartitionRepository) SwapActive(ctx context.Context, from, next int64, now time.Time) (bool, error) {
	const opName = "SQLPartitionRepository.SwapActive"
	err := tx.RunInTx(ctx, r.tm, func(ctx context.Context) error {
		exec := r.executor(ctx)
		res := exec.Session(ctx).
			Table(PartitionsTable).
			Where("number = ? AND active = ?", from, true).
			Update("active", false)
		if res.Error != nil {
			return exception.NewBackfillError(opName, fmt.Sprintf("failed to deactivate partition %d", from), res.Error, true)
		}
		if res.RowsAffected != 1 {
			return errSwapLost
		}

		created, err := exec.ExecuteUpsert(ctx, &PartitionEntity{Number: next, Active: true, CreatedAt: now.UTC()},
			PartitionsTable, []string{"number"}, nil)
		if err != nil {
			return exception.NewBackfillError(opName, fmt.Sprintf("failed to activate partition %d", next), err, true)
		}
		if created == 0 {
			return errSwapLost
		}
		return nil
	})
	if errors.Is(err, errSwapLost) {
		logger.Debugf("%s: partition %d is no longer active, another opener won.", opName, from)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLPartitionRepository) DropTables(ctx context.Context, number int64) error {
	const opName = "SQLPartitionRepository.DropTables"
	if err := r.executor(ctx).Session(ctx).Migrator().DropTable(BatchesTable(number), OperationsTable(number)); err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to drop tables of partition %d", number), err, true)
	}
	return nil
}

func (r *SQLPartitionRepository) MarkDetached(ctx context.Context, number int64, now time.Time) error {
	const opName = "SQLPartitionRepository.MarkDetached"
	err := r.executor(ctx).Session(ctx).
		Table(PartitionsTable).
		Where("number = ? AND detached_at IS NULL", number).
		Updates(map[string]interface{}{"detached_at": now.UTC(), "active": false}).Error
	if err != nil {
		return exception.NewBackfillError(opName, fmt.Sprintf("failed to mark partition %d detached", number), err, true)
	}
	return nil
}

var _ repository.PartitionRepository = (*SQLPartitionRepository)(nil)
