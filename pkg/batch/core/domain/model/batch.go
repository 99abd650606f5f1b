package model

import (
	"fmt"
	"time"
)

// MaxAttempts is the number of failed executions after which a Batch is no longer retried.
const MaxAttempts = 3

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// ExecutableBatchStatuses are the states of Batches that are still in flight.
var ExecutableBatchStatuses = []BatchStatus{BatchPending, BatchRunning}

func (s BatchStatus) String() string {
	return string(s)
}

// IsFinished reports whether the executor has reported an outcome.
func (s BatchStatus) IsFinished() bool {
	return s == BatchSucceeded || s == BatchFailed
}

// Batch is one bounded, independently retriable unit of work within an Operation's key range.
type Batch struct {
	ID          string
	OperationID string
	// Partition always equals the parent Operation's partition.
	Partition int64

	MinCursor Cursor
	MaxCursor Cursor

	// Pacing snapshot taken from the Operation when the Batch was created.
	BatchSize    int64
	SubBatchSize int64
	PauseMS      int64

	Attempts     int
	Status       BatchStatus
	ErrorMessage string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// NewBatch creates a pending Batch over [min, max] for op.
func NewBatch(op *Operation, min, max Cursor, now time.Time) *Batch {
	return &Batch{
		ID:           NewID(),
		OperationID:  op.ID,
		Partition:    op.Partition,
		MinCursor:    min.Copy(),
		MaxCursor:    max.Copy(),
		BatchSize:    op.BatchSize,
		SubBatchSize: op.SubBatchSize,
		PauseMS:      op.PauseMS,
		Status:       BatchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Range returns the key range of the Batch.
func (b *Batch) Range() CursorRange {
	return CursorRange{Min: b.MinCursor, Max: b.MaxCursor}
}

// IsRetriable reports whether the Batch may be offered again by the retry fallback.
func (b *Batch) IsRetriable() bool {
	return b.Status == BatchFailed && b.Attempts < MaxAttempts
}

// IsExhausted reports whether the Batch failed and used up its attempts.
func (b *Batch) IsExhausted() bool {
	return b.Status == BatchFailed && b.Attempts >= MaxAttempts
}

// Duration returns how long the last execution took, or zero while it has not finished.
func (b *Batch) Duration() time.Duration {
	if b.StartedAt == nil || b.FinishedAt == nil {
		return 0
	}
	return b.FinishedAt.Sub(*b.StartedAt)
}

// MarkRunning dispatches a pending or retriable Batch.
func (b *Batch) MarkRunning(now time.Time) error {
	switch {
	case b.Status == BatchPending:
	case b.IsRetriable():
		b.ErrorMessage = ""
		b.FinishedAt = nil
	default:
		return fmt.Errorf("Batch (ID: %s): invalid state transition: %s -> %s (attempts %d)", b.ID, b.Status, BatchRunning, b.Attempts)
	}
	b.Status = BatchRunning
	started := now
	b.StartedAt = &started
	b.UpdatedAt = now
	return nil
}

// MarkSucceeded records a successful execution.
func (b *Batch) MarkSucceeded(now time.Time) error {
	if b.Status != BatchRunning {
		return fmt.Errorf("Batch (ID: %s): invalid state transition: %s -> %s", b.ID, b.Status, BatchSucceeded)
	}
	b.Status = BatchSucceeded
	finished := now
	b.FinishedAt = &finished
	b.UpdatedAt = now
	return nil
}

// MarkFailed records a failed execution and counts the attempt.
func (b *Batch) MarkFailed(now time.Time, cause error) error {
	if b.Status != BatchRunning {
		return fmt.Errorf("Batch (ID: %s): invalid state transition: %s -> %s", b.ID, b.Status, BatchFailed)
	}
	b.Status = BatchFailed
	b.Attempts++
	if cause != nil {
		b.ErrorMessage = cause.Error()
	}
	finished := now
	b.FinishedAt = &finished
	b.UpdatedAt = now
	return nil
}
