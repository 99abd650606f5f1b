// Package intake validates backfill requests and records them as queued Operations.
package intake

import (
	"time"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

// Requester identifies who asked for an Operation.
type Requester struct {
	OrganizationID string
	UserID         string
}

// Tuning overrides the pacing defaults of a new Operation. Nil fields keep the defaults.
type Tuning struct {
	BatchSize        *int64
	SubBatchSize     *int64
	MaxBatchSize     *int64
	Interval         *time.Duration
	PauseMS          *int64
	BatchingStrategy string
	// MinCursor and MaxCursor bound the key space. Missing bounds are read from the table.
	MinCursor model.Cursor
	MaxCursor model.Cursor
}

// Request asks for one Operation over (JobType, TableName, ColumnName, Arguments).
type Request struct {
	JobType    string
	TableName  string
	ColumnName string
	Arguments  model.Arguments
	// Schema is the logical schema used to route the request to a connection.
	Schema string
	// Connection bypasses routing when set.
	Connection string
	Requester  *Requester
	Overrides  Tuning
}

// Int64 returns a pointer to v, for filling Tuning literals.
func Int64(v int64) *int64 {
	return &v
}

// Duration returns a pointer to d, for filling Tuning literals.
func Duration(d time.Duration) *time.Duration {
	return &d
}
