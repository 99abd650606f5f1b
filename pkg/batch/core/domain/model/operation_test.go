package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/core/domain/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newOperation() *model.Operation {
	return &model.Operation{
		ID:           model.NewID(),
		JobType:      "copy_column",
		TableName:    "events",
		ColumnName:   "id",
		MinCursor:    model.IntCursor(1),
		MaxCursor:    model.IntCursor(100),
		NextCursor:   model.IntCursor(1),
		BatchSize:    10,
		SubBatchSize: 5,
		Interval:     model.MinInterval,
		PauseMS:      model.MinPauseMS,
		Status:       model.OperationQueued,
		Partition:    1,
		CreatedAt:    t0,
	}
}

func TestOperation_Lifecycle(t *testing.T) {
	op := newOperation()

	require.NoError(t, op.Resume(t0))
	assert.Equal(t, model.OperationActive, op.Status)
	require.NotNil(t, op.StartedAt)

	until := t0.Add(5 * time.Minute)
	require.NoError(t, op.Pause(until, t0.Add(time.Minute)))
	assert.True(t, op.IsOnHold(t0.Add(2*time.Minute)))
	assert.False(t, op.IsOnHold(until))

	require.NoError(t, op.Resume(until))
	assert.Nil(t, op.OnHoldUntil)
	assert.Equal(t, t0, *op.StartedAt, "StartedAt is kept on resume")

	require.NoError(t, op.Finish(until.Add(time.Minute)))
	assert.True(t, op.Status.IsTerminal())
	require.NotNil(t, op.FinishedAt)

	assert.Error(t, op.Resume(until.Add(2*time.Minute)))
	assert.Error(t, op.Fail(until.Add(2*time.Minute)))
}

func TestOperation_InvalidTransitions(t *testing.T) {
	op := newOperation()
	assert.Error(t, op.Pause(t0.Add(time.Hour), t0), "a queued Operation cannot be paused")
	assert.Error(t, op.Finish(t0), "a queued Operation cannot finish")
	require.NoError(t, op.Fail(t0))
	assert.Equal(t, model.OperationFailed, op.Status)

	// same state is a no-op
	require.NoError(t, op.TransitionTo(model.OperationFailed, t0.Add(time.Hour)))
	assert.Equal(t, t0, *op.FinishedAt)
}

func TestOperation_EnforceFloors(t *testing.T) {
	op := newOperation()
	op.PauseMS = 0
	op.Interval = time.Second
	op.BatchSize = 500
	op.MaxBatchSize = 200
	op.SubBatchSize = 1000

	op.EnforceFloors()
	assert.Equal(t, model.MinPauseMS, op.PauseMS)
	assert.Equal(t, model.MinInterval, op.Interval)
	assert.Equal(t, int64(200), op.BatchSize)
	assert.Equal(t, int64(200), op.SubBatchSize)

	op.BatchSize = 0
	op.SubBatchSize = 0
	op.EnforceFloors()
	assert.Equal(t, int64(1), op.BatchSize)
	assert.Equal(t, int64(1), op.SubBatchSize)
}

func TestOperation_IsExhausted(t *testing.T) {
	op := newOperation()
	assert.False(t, op.IsExhausted())
	op.NextCursor = model.IntCursor(100)
	assert.False(t, op.IsExhausted())
	op.NextCursor = model.IntCursor(101)
	assert.True(t, op.IsExhausted())
	op.NextCursor = nil
	assert.True(t, op.IsExhausted())
}

func TestOperation_AdvancePast(t *testing.T) {
	op := newOperation()
	op.AdvancePast(model.IntCursor(50))
	assert.True(t, op.NextCursor.Equal(model.IntCursor(51)))

	op.AdvancePast(model.IntCursor(100))
	assert.Nil(t, op.NextCursor)
	assert.True(t, op.IsExhausted())

	op.MaxCursor = model.IntCursor(math.MaxInt64)
	op.AdvancePast(model.IntCursor(math.MaxInt64))
	assert.True(t, op.IsExhausted())
}

func TestOperation_IntervalElapsed(t *testing.T) {
	op := newOperation()
	assert.True(t, op.IntervalElapsed(nil, t0))
	last := t0
	assert.False(t, op.IntervalElapsed(&last, t0.Add(model.MinInterval-time.Second)))
	assert.True(t, op.IntervalElapsed(&last, t0.Add(model.MinInterval)))
}

func TestArguments_Canonical(t *testing.T) {
	a := model.Arguments{map[string]interface{}{"b": 1, "a": 2}, "x"}
	assert.Equal(t, `[{"a":2,"b":1},"x"]`, a.Canonical())
	assert.Equal(t, "[]", model.Arguments(nil).Canonical())

	var scanned model.Arguments
	require.NoError(t, scanned.Scan(`[1,"x"]`))
	assert.Equal(t, model.Arguments{json.Number("1"), "x"}, scanned)
	assert.Equal(t, `[1,"x"]`, scanned.Canonical())

	op := newOperation()
	op.Arguments = scanned
	assert.Equal(t, model.Identity{JobType: "copy_column", TableName: "events", ColumnName: "id", Arguments: `[1,"x"]`}, op.Identity())
}

func TestBatch_Lifecycle(t *testing.T) {
	op := newOperation()
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(10), t0)
	assert.Equal(t, model.BatchPending, b.Status)
	assert.Equal(t, op.Partition, b.Partition)
	assert.Equal(t, int64(10), b.BatchSize)
	assert.Equal(t, int64(5), b.SubBatchSize)

	assert.Error(t, b.MarkSucceeded(t0), "a pending Batch has not run")

	cause := errors.New("lock timeout")
	for i := 1; i <= model.MaxAttempts; i++ {
		require.NoError(t, b.MarkRunning(t0))
		assert.Empty(t, b.ErrorMessage)
		require.NoError(t, b.MarkFailed(t0.Add(time.Second), cause))
		assert.Equal(t, i, b.Attempts)
		assert.Equal(t, "lock timeout", b.ErrorMessage)
	}
	assert.True(t, b.IsExhausted())
	assert.False(t, b.IsRetriable())
	assert.Error(t, b.MarkRunning(t0))
}

func TestBatch_Duration(t *testing.T) {
	b := model.NewBatch(newOperation(), model.IntCursor(1), model.IntCursor(10), t0)
	assert.Zero(t, b.Duration())
	require.NoError(t, b.MarkRunning(t0))
	assert.Zero(t, b.Duration())
	require.NoError(t, b.MarkSucceeded(t0.Add(3*time.Second)))
	assert.Equal(t, 3*time.Second, b.Duration())
	assert.True(t, b.Status.IsFinished())
}
