package sql

import (
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

func fromDomainOperation(op *model.Operation) *OperationEntity {
	if op == nil {
		return nil
	}
	return &OperationEntity{
		ID:                   op.ID,
		JobType:              op.JobType,
		TargetTable:          op.TableName,
		ColumnName:           op.ColumnName,
		Arguments:            op.Arguments,
		ConnectionName:       op.Connection,
		SchemaName:           op.Schema,
		MinCursor:            op.MinCursor.Copy(),
		MaxCursor:            op.MaxCursor.Copy(),
		NextCursor:           op.NextCursor.Copy(),
		BatchSize:            op.BatchSize,
		SubBatchSize:         op.SubBatchSize,
		MaxBatchSize:         op.MaxBatchSize,
		IntervalMS:           op.Interval.Milliseconds(),
		PauseMS:              op.PauseMS,
		BatchingStrategyName: op.BatchingStrategyName,
		Status:               string(op.Status),
		OnHoldUntil:          utcPtr(op.OnHoldUntil),
		PartitionNumber:      op.Partition,
		OrganizationID:       op.OrganizationID,
		RequestedBy:          op.RequestedBy,
		Version:              op.Version,
		CreatedAt:            op.CreatedAt.UTC(),
		UpdatedAt:            op.UpdatedAt.UTC(),
		StartedAt:            utcPtr(op.StartedAt),
		FinishedAt:           utcPtr(op.FinishedAt),
	}
}

func toDomainOperation(e *OperationEntity) *model.Operation {
	if e == nil {
		return nil
	}
	return &model.Operation{
		ID:                   e.ID,
		JobType:              e.JobType,
		TableName:            e.TargetTable,
		ColumnName:           e.ColumnName,
		Arguments:            e.Arguments,
		Connection:           e.ConnectionName,
		Schema:               e.SchemaName,
		MinCursor:            e.MinCursor,
		MaxCursor:            e.MaxCursor,
		NextCursor:           e.NextCursor,
		BatchSize:            e.BatchSize,
		SubBatchSize:         e.SubBatchSize,
		MaxBatchSize:         e.MaxBatchSize,
		Interval:             time.Duration(e.IntervalMS) * time.Millisecond,
		PauseMS:              e.PauseMS,
		BatchingStrategyName: e.BatchingStrategyName,
		Status:               model.OperationStatus(e.Status),
		OnHoldUntil:          utcPtr(e.OnHoldUntil),
		Partition:            e.PartitionNumber,
		OrganizationID:       e.OrganizationID,
		RequestedBy:          e.RequestedBy,
		Version:              e.Version,
		CreatedAt:            e.CreatedAt.UTC(),
		UpdatedAt:            e.UpdatedAt.UTC(),
		StartedAt:            utcPtr(e.StartedAt),
		FinishedAt:           utcPtr(e.FinishedAt),
	}
}

func fromDomainBatch(b *model.Batch) *BatchEntity {
	if b == nil {
		return nil
	}
	return &BatchEntity{
		ID:              b.ID,
		OperationID:     b.OperationID,
		PartitionNumber: b.Partition,
		MinCursor:       b.MinCursor.Copy(),
		MaxCursor:       b.MaxCursor.Copy(),
		BatchSize:       b.BatchSize,
		SubBatchSize:    b.SubBatchSize,
		PauseMS:         b.PauseMS,
		Attempts:        b.Attempts,
		Status:          string(b.Status),
		ErrorMessage:    b.ErrorMessage,
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
		StartedAt:       utcPtr(b.StartedAt),
		FinishedAt:      utcPtr(b.FinishedAt),
	}
}

func toDomainBatch(e *BatchEntity) *model.Batch {
	if e == nil {
		return nil
	}
	return &model.Batch{
		ID:           e.ID,
		OperationID:  e.OperationID,
		Partition:    e.PartitionNumber,
		MinCursor:    e.MinCursor,
		MaxCursor:    e.MaxCursor,
		BatchSize:    e.BatchSize,
		SubBatchSize: e.SubBatchSize,
		PauseMS:      e.PauseMS,
		Attempts:     e.Attempts,
		Status:       model.BatchStatus(e.Status),
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
		StartedAt:    utcPtr(e.StartedAt),
		FinishedAt:   utcPtr(e.FinishedAt),
	}
}

func toDomainPartition(e *PartitionEntity) *model.Partition {
	if e == nil {
		return nil
	}
	return &model.Partition{
		Number:     e.Number,
		Active:     e.Active,
		CreatedAt:  e.CreatedAt.UTC(),
		DetachedAt: utcPtr(e.DetachedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func operationStatusStrings(statuses []model.OperationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func batchStatusStrings(statuses []model.BatchStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
