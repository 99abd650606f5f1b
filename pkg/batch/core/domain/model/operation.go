package model

import (
	"fmt"
	"time"
)

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus string

const (
	OperationQueued   OperationStatus = "queued"
	OperationActive   OperationStatus = "active"
	OperationPaused   OperationStatus = "paused"
	OperationFinished OperationStatus = "finished"
	OperationFailed   OperationStatus = "failed"
)

// ExecutableOperationStatuses are the states that still hold live work.
var ExecutableOperationStatuses = []OperationStatus{OperationQueued, OperationActive, OperationPaused}

func (s OperationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further Batches may be scheduled.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationFinished || s == OperationFailed
}

var operationTransitions = map[OperationStatus][]OperationStatus{
	OperationQueued: {OperationActive, OperationFailed},
	OperationActive: {OperationPaused, OperationFinished, OperationFailed},
	OperationPaused: {OperationActive, OperationFinished, OperationFailed},
}

func isValidOperationTransition(current, next OperationStatus) bool {
	for _, s := range operationTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Operation is a long-lived background task over one (job type, table, column, arguments) tuple.
type Operation struct {
	ID         string
	JobType    string
	TableName  string
	ColumnName string
	Arguments  Arguments
	// Connection names the database that owns TableName. The Operation and its Batches
	// are stored in that database.
	Connection string
	Schema     string

	MinCursor  Cursor
	MaxCursor  Cursor
	NextCursor Cursor

	BatchSize            int64
	SubBatchSize         int64
	MaxBatchSize         int64
	Interval             time.Duration
	PauseMS              int64
	BatchingStrategyName string

	Status      OperationStatus
	OnHoldUntil *time.Time
	// Partition is assigned at creation and never changes afterwards.
	Partition int64

	OrganizationID string
	RequestedBy    string

	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Identity returns the dedup tuple of the Operation.
func (o *Operation) Identity() Identity {
	return Identity{
		JobType:    o.JobType,
		TableName:  o.TableName,
		ColumnName: o.ColumnName,
		Arguments:  o.Arguments.Canonical(),
	}
}

// Range returns the full key space of the Operation.
func (o *Operation) Range() CursorRange {
	return CursorRange{Min: o.MinCursor, Max: o.MaxCursor}
}

// IsOnHold reports whether the Operation must not be scheduled at now.
func (o *Operation) IsOnHold(now time.Time) bool {
	return o.OnHoldUntil != nil && o.OnHoldUntil.After(now)
}

// IsExhausted reports whether no key range is left to hand out.
func (o *Operation) IsExhausted() bool {
	if o.MinCursor.IsEmpty() || o.MaxCursor.IsEmpty() || o.NextCursor.IsEmpty() {
		return true
	}
	return o.NextCursor.Compare(o.MaxCursor) > 0
}

// AdvancePast moves NextCursor to the successor of hi. When hi reaches MaxCursor or has no
// successor, NextCursor is cleared and the Operation is exhausted.
func (o *Operation) AdvancePast(hi Cursor) {
	if o.MaxCursor.IsEmpty() || hi.Compare(o.MaxCursor) >= 0 {
		o.NextCursor = nil
		return
	}
	next, ok := hi.Next()
	if !ok {
		o.NextCursor = nil
		return
	}
	o.NextCursor = next
}

// EnforceFloors raises pacing fields to their minimums and keeps sizes consistent.
func (o *Operation) EnforceFloors() {
	if o.PauseMS < MinPauseMS {
		o.PauseMS = MinPauseMS
	}
	if o.Interval < MinInterval {
		o.Interval = MinInterval
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.MaxBatchSize > 0 && o.BatchSize > o.MaxBatchSize {
		o.BatchSize = o.MaxBatchSize
	}
	if o.SubBatchSize < 1 {
		o.SubBatchSize = 1
	}
	if o.SubBatchSize > o.BatchSize {
		o.SubBatchSize = o.BatchSize
	}
}

// TransitionTo moves the Operation to next, stamping lifecycle timestamps.
func (o *Operation) TransitionTo(next OperationStatus, now time.Time) error {
	if o.Status == next {
		return nil
	}
	if !isValidOperationTransition(o.Status, next) {
		return fmt.Errorf("Operation (ID: %s): invalid state transition: %s -> %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	switch next {
	case OperationActive:
		o.OnHoldUntil = nil
		if o.StartedAt == nil {
			started := now
			o.StartedAt = &started
		}
	case OperationFinished, OperationFailed:
		o.OnHoldUntil = nil
		finished := now
		o.FinishedAt = &finished
	}
	return nil
}

// Pause moves an active Operation to paused until the given time.
func (o *Operation) Pause(until, now time.Time) error {
	if err := o.TransitionTo(OperationPaused, now); err != nil {
		return err
	}
	hold := until
	o.OnHoldUntil = &hold
	return nil
}

// Resume moves a queued or paused Operation to active.
func (o *Operation) Resume(now time.Time) error {
	return o.TransitionTo(OperationActive, now)
}

// Finish marks the Operation finished.
func (o *Operation) Finish(now time.Time) error {
	return o.TransitionTo(OperationFinished, now)
}

// Fail marks the Operation failed.
func (o *Operation) Fail(now time.Time) error {
	return o.TransitionTo(OperationFailed, now)
}

// IntervalElapsed reports whether a new Batch attempt may start at now given when the
// previous Batch was created or last attempted.
func (o *Operation) IntervalElapsed(lastBatchAt *time.Time, now time.Time) bool {
	if lastBatchAt == nil {
		return true
	}
	return !now.Before(lastBatchAt.Add(o.Interval))
}
