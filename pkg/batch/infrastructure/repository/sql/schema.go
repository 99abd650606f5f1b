package sql

import (
	"fmt"
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// Physical table names. Partition N owns one operations table and one batches table.
const (
	PartitionsTable       = "backfill_partitions"
	operationsTablePrefix = "backfill_operations_p"
	batchesTablePrefix    = "backfill_batches_p"
)

// OperationsTable returns the name of the operations table of partition n.
func OperationsTable(n int64) string {
	return fmt.Sprintf("%s%d", operationsTablePrefix, n)
}

// BatchesTable returns the name of the batches table of partition n.
func BatchesTable(n int64) string {
	return fmt.Sprintf("%s%d", batchesTablePrefix, n)
}

// OperationEntity is the persistence model of an Operation.
// Indexes are created per physical table by PartitionRepository.EnsureTables.
type OperationEntity struct {
	ID                   string          `gorm:"primaryKey;size:36"`
	JobType              string          `gorm:"size:191;not null"`
	TargetTable          string          `gorm:"column:table_name;size:191;not null"`
	ColumnName           string          `gorm:"size:191;not null"`
	Arguments            model.Arguments `gorm:"type:text"`
	ConnectionName       string          `gorm:"size:128"`
	SchemaName           string          `gorm:"size:128"`
	MinCursor            model.Cursor    `gorm:"type:text"`
	MaxCursor            model.Cursor    `gorm:"type:text"`
	NextCursor           model.Cursor    `gorm:"type:text"`
	BatchSize            int64
	SubBatchSize         int64
	MaxBatchSize         int64
	IntervalMS           int64  `gorm:"column:interval_ms"`
	PauseMS              int64  `gorm:"column:pause_ms"`
	BatchingStrategyName string `gorm:"size:64"`
	Status               string `gorm:"size:16;not null"`
	OnHoldUntil          *time.Time
	PartitionNumber      int64  `gorm:"not null"`
	OrganizationID       string `gorm:"size:64"`
	RequestedBy          string `gorm:"size:64"`
	Version              int
	CreatedAt            time.Time `gorm:"autoCreateTime:false;not null"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime:false"`
	StartedAt            *time.Time
	FinishedAt           *time.Time
}

// BatchEntity is the persistence model of a Batch.
type BatchEntity struct {
	ID              string       `gorm:"primaryKey;size:36"`
	OperationID     string       `gorm:"size:36;not null"`
	PartitionNumber int64        `gorm:"not null"`
	MinCursor       model.Cursor `gorm:"type:text"`
	MaxCursor       model.Cursor `gorm:"type:text"`
	BatchSize       int64
	SubBatchSize    int64
	PauseMS         int64 `gorm:"column:pause_ms"`
	Attempts        int
	Status          string    `gorm:"size:16;not null"`
	ErrorMessage    string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"autoCreateTime:false;not null"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// PartitionEntity is a row of the partition descriptor table.
type PartitionEntity struct {
	Number     int64     `gorm:"primaryKey;autoIncrement:false"`
	Active     bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false;not null"`
	DetachedAt *time.Time
}

// tableIndex is a secondary index created right after its table.
type tableIndex struct {
	suffix  string
	columns string
}

var operationIndexes = []tableIndex{
	{suffix: "sched", columns: "status, created_at, id"},
	{suffix: "ident", columns: "job_type, table_name, column_name"},
}

var batchIndexes = []tableIndex{
	{suffix: "op", columns: "operation_id, status"},
	{suffix: "status", columns: "status"},
}

// Columns the update path never writes.
var (
	operationImmutableColumns = []string{"partition_number", "created_at"}
	batchImmutableColumns     = []string{"operation_id", "partition_number", "created_at"}
)
