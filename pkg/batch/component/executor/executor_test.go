package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/component/executor"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type eventRow struct {
	ID  int64
	Src *string
	Dst *string
}

func seedEvents(t *testing.T, n int64) (*gormadapter.GormDBAdapter, *test.MockDBConnectionResolver) {
	t.Helper()
	conn := test.OpenSQLite(t, "main")
	db := conn.Session(context.Background())
	require.NoError(t, db.Exec("CREATE TABLE events (id INTEGER PRIMARY KEY, src TEXT, dst TEXT)").Error)
	for i := int64(1); i <= n; i++ {
		require.NoError(t, db.Exec("INSERT INTO events (id, src) VALUES (?, ?)", i, "v").Error)
	}
	resolver := &test.MockDBConnectionResolver{}
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(conn, nil)
	return conn, resolver
}

func runningBatch(op *model.Operation, lo, hi int64) *model.Batch {
	b := model.NewBatch(op, model.IntCursor(lo), model.IntCursor(hi), test.Epoch)
	_ = b.MarkRunning(test.Epoch)
	return b
}

func builtinRegistry(t *testing.T) *executor.HandlerRegistry {
	t.Helper()
	r := executor.NewHandlerRegistry()
	require.NoError(t, r.Register(executor.CopyColumnJob, executor.HandlerFunc(executor.CopyColumn)))
	require.NoError(t, r.Register(executor.FillNullJob, executor.HandlerFunc(executor.FillNull)))
	return r
}

func TestBatchExecutor_CopyColumnWithinRange(t *testing.T) {
	conn, resolver := seedEvents(t, 120)
	op := test.NewTestOperation(1, 1, 120, test.Epoch)
	op.SubBatchSize = 50
	b := runningBatch(op, 1, 100)

	e := executor.NewBatchExecutor(resolver, builtinRegistry(t), clock.NewManual(test.Epoch), time.Second)
	require.NoError(t, e.Perform(context.Background(), b, op))
	assert.Equal(t, model.BatchSucceeded, b.Status)
	assert.NotNil(t, b.FinishedAt)

	var rows []eventRow
	require.NoError(t, conn.Session(context.Background()).Table("events").Order("id").Find(&rows).Error)
	require.Len(t, rows, 120)
	for _, r := range rows {
		if r.ID <= 100 {
			require.NotNil(t, r.Dst, "row %d", r.ID)
			assert.Equal(t, "v", *r.Dst)
		} else {
			assert.Nil(t, r.Dst, "row %d", r.ID)
		}
	}
}

func TestBatchExecutor_FillNull(t *testing.T) {
	conn, resolver := seedEvents(t, 10)
	require.NoError(t, conn.Session(context.Background()).Exec("UPDATE events SET dst = 'kept' WHERE id = 2").Error)

	op := test.NewTestOperation(1, 1, 10, test.Epoch)
	op.JobType = executor.FillNullJob
	op.Arguments = model.Arguments{"dst", "filled"}
	b := runningBatch(op, 1, 10)

	e := executor.NewBatchExecutor(resolver, builtinRegistry(t), clock.NewManual(test.Epoch), time.Second)
	require.NoError(t, e.Perform(context.Background(), b, op))
	require.Equal(t, model.BatchSucceeded, b.Status)

	var rows []eventRow
	require.NoError(t, conn.Session(context.Background()).Table("events").Order("id").Find(&rows).Error)
	assert.Equal(t, "kept", *rows[1].Dst)
	assert.Equal(t, "filled", *rows[0].Dst)
}

func TestBatchExecutor_FailuresAreRecordedOnTheBatch(t *testing.T) {
	_, resolver := seedEvents(t, 1)
	registry := builtinRegistry(t)
	require.NoError(t, registry.Register("slow", executor.HandlerFunc(
		func(ctx context.Context, exec adapter.DBExecutor, op *model.Operation, sub model.CursorRange) error {
			<-ctx.Done()
			return ctx.Err()
		})))
	e := executor.NewBatchExecutor(resolver, registry, clock.NewManual(test.Epoch), 10*time.Millisecond)

	cases := []struct {
		name    string
		jobType string
		args    model.Arguments
		message string
	}{
		{name: "unknown job type", jobType: "rewrite_history", message: "no handler registered"},
		{name: "sub-batch timeout", jobType: "slow", message: "deadline exceeded"},
		{name: "bad arguments", jobType: executor.CopyColumnJob, args: model.Arguments{"src"}, message: "requires argument 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := test.NewTestOperation(1, 1, 10, test.Epoch)
			op.JobType = tc.jobType
			if tc.args != nil {
				op.Arguments = tc.args
			}
			b := runningBatch(op, 1, 10)

			require.NoError(t, e.Perform(context.Background(), b, op))
			assert.Equal(t, model.BatchFailed, b.Status)
			assert.Equal(t, 1, b.Attempts)
			assert.Contains(t, b.ErrorMessage, tc.message)
		})
	}
}

func TestSubRanges(t *testing.T) {
	subs := executor.SubRanges(model.CursorRange{Min: model.IntCursor(1), Max: model.IntCursor(100)}, 30)
	require.Len(t, subs, 4)
	assert.True(t, subs[0].Max.Equal(model.IntCursor(30)))
	assert.True(t, subs[3].Min.Equal(model.IntCursor(91)))
	assert.True(t, subs[3].Max.Equal(model.IntCursor(100)))

	single := executor.SubRanges(model.CursorRange{Min: model.IntCursor(5), Max: model.IntCursor(5)}, 10)
	require.Len(t, single, 1)

	text := model.CursorRange{Min: model.MustCursor("a"), Max: model.MustCursor("m")}
	assert.Equal(t, []model.CursorRange{text}, executor.SubRanges(text, 10))
}

func TestHandlerRegistry(t *testing.T) {
	r := builtinRegistry(t)
	assert.True(t, r.Has(executor.CopyColumnJob))
	assert.False(t, r.Has("nope"))
	assert.Error(t, r.Register(executor.CopyColumnJob, executor.HandlerFunc(executor.CopyColumn)))
	assert.Equal(t, []string{executor.CopyColumnJob, executor.FillNullJob}, r.JobTypes())
}
