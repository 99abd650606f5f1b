package archive

import (
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// OperationRow is the Parquet layout of an archived Operation.
type OperationRow struct {
	ID                   string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	JobType              string `parquet:"name=job_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TableName            string `parquet:"name=table_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ColumnName           string `parquet:"name=column_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Arguments            string `parquet:"name=arguments, type=BYTE_ARRAY, convertedtype=UTF8"`
	Connection           string `parquet:"name=connection, type=BYTE_ARRAY, convertedtype=UTF8"`
	Schema               string `parquet:"name=schema, type=BYTE_ARRAY, convertedtype=UTF8"`
	MinCursor            string `parquet:"name=min_cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	MaxCursor            string `parquet:"name=max_cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	NextCursor           string `parquet:"name=next_cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchSize            int64  `parquet:"name=batch_size, type=INT64"`
	SubBatchSize         int64  `parquet:"name=sub_batch_size, type=INT64"`
	MaxBatchSize         int64  `parquet:"name=max_batch_size, type=INT64"`
	IntervalMS           int64  `parquet:"name=interval_ms, type=INT64"`
	PauseMS              int64  `parquet:"name=pause_ms, type=INT64"`
	BatchingStrategyName string `parquet:"name=batching_strategy_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status               string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Partition            int64  `parquet:"name=partition, type=INT64"`
	OrganizationID       string `parquet:"name=organization_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RequestedBy          string `parquet:"name=requested_by, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt            int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UpdatedAt            int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	StartedAt            *int64 `parquet:"name=started_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	FinishedAt           *int64 `parquet:"name=finished_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

// BatchRow is the Parquet layout of an archived Batch.
type BatchRow struct {
	ID           string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OperationID  string `parquet:"name=operation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Partition    int64  `parquet:"name=partition, type=INT64"`
	MinCursor    string `parquet:"name=min_cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	MaxCursor    string `parquet:"name=max_cursor, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchSize    int64  `parquet:"name=batch_size, type=INT64"`
	SubBatchSize int64  `parquet:"name=sub_batch_size, type=INT64"`
	PauseMS      int64  `parquet:"name=pause_ms, type=INT64"`
	Attempts     int32  `parquet:"name=attempts, type=INT32"`
	Status       string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ErrorMessage string `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt    int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UpdatedAt    int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	StartedAt    *int64 `parquet:"name=started_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	FinishedAt   *int64 `parquet:"name=finished_at, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

func toOperationRow(op *model.Operation) OperationRow {
	return OperationRow{
		ID:                   op.ID,
		JobType:              op.JobType,
		TableName:            op.TableName,
		ColumnName:           op.ColumnName,
		Arguments:            op.Arguments.Canonical(),
		Connection:           op.Connection,
		Schema:               op.Schema,
		MinCursor:            op.MinCursor.String(),
		MaxCursor:            op.MaxCursor.String(),
		NextCursor:           op.NextCursor.String(),
		BatchSize:            op.BatchSize,
		SubBatchSize:         op.SubBatchSize,
		MaxBatchSize:         op.MaxBatchSize,
		IntervalMS:           op.Interval.Milliseconds(),
		PauseMS:              op.PauseMS,
		BatchingStrategyName: op.BatchingStrategyName,
		Status:               string(op.Status),
		Partition:            op.Partition,
		OrganizationID:       op.OrganizationID,
		RequestedBy:          op.RequestedBy,
		CreatedAt:            op.CreatedAt.UnixMilli(),
		UpdatedAt:            op.UpdatedAt.UnixMilli(),
		StartedAt:            millis(op.StartedAt),
		FinishedAt:           millis(op.FinishedAt),
	}
}

func toBatchRow(b *model.Batch) BatchRow {
	return BatchRow{
		ID:           b.ID,
		OperationID:  b.OperationID,
		Partition:    b.Partition,
		MinCursor:    b.MinCursor.String(),
		MaxCursor:    b.MaxCursor.String(),
		BatchSize:    b.BatchSize,
		SubBatchSize: b.SubBatchSize,
		PauseMS:      b.PauseMS,
		Attempts:     int32(b.Attempts),
		Status:       string(b.Status),
		ErrorMessage: b.ErrorMessage,
		CreatedAt:    b.CreatedAt.UnixMilli(),
		UpdatedAt:    b.UpdatedAt.UnixMilli(),
		StartedAt:    millis(b.StartedAt),
		FinishedAt:   millis(b.FinishedAt),
	}
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
