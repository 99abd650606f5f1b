package partition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	sqlrepo "github.com/tigerroll/backfill/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type recordingArchiver struct {
	calls   []int64
	ops     int
	batches int
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, connection string, number int64, ops []*model.Operation, batches []*model.Batch) error {
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, number)
	a.ops += len(ops)
	a.batches += len(batches)
	return nil
}

func newManager(t *testing.T, opts ...partition.Option) (*partition.Manager, *sqlrepo.SQLStore, *clock.Manual) {
	t.Helper()
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	opts = append([]partition.Option{partition.WithClock(clk)}, opts...)
	return partition.NewManager(store, opts...), store, clk
}

func TestManager_EnsureActivePartition(t *testing.T) {
	m, _, _ := newManager(t)
	p, err := m.EnsureActivePartition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Number)
	assert.Equal(t, "main", m.Connection())
}

func TestManager_MaybeOpenNewPartition(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newManager(t)

	// empty partitions never roll
	clk.Advance(30 * 24 * time.Hour)
	opened, err := m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	assert.False(t, opened)

	clk.Set(test.Epoch)
	require.NoError(t, store.Operations().Create(ctx, test.NewTestOperation(1, 1, 10, test.Epoch)))

	clk.Advance(partition.DefaultWindow - time.Second)
	opened, err = m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	assert.False(t, opened)

	clk.Advance(time.Second)
	opened, err = m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	assert.True(t, opened)

	active, err := store.Partitions().Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.Number)

	// the fresh partition is empty, so nothing further happens
	opened, err = m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	assert.False(t, opened)
}

func TestManager_OpensOnOldBatchesToo(t *testing.T) {
	ctx := context.Background()
	m, store, clk := newManager(t, partition.WithWindow(time.Hour))

	op := test.NewTestOperation(1, 1, 10, test.Epoch.Add(30*time.Minute))
	require.NoError(t, store.Operations().Create(ctx, op))
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(10), test.Epoch)
	require.NoError(t, store.Batches().Create(ctx, b))

	clk.Advance(time.Hour)
	opened, err := m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	assert.True(t, opened)
}

func TestManager_MaybeDetachPartition(t *testing.T) {
	ctx := context.Background()
	archiver := &recordingArchiver{}
	m, store, clk := newManager(t, partition.WithArchiver(archiver))

	op := test.NewTestOperation(1, 1, 10, test.Epoch)
	require.NoError(t, store.Operations().Create(ctx, op))
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(10), test.Epoch)
	require.NoError(t, store.Batches().Create(ctx, b))

	// the active partition is never detached
	detached, err := m.MaybeDetachPartition(ctx, 1)
	require.NoError(t, err)
	assert.False(t, detached)

	clk.Advance(partition.DefaultWindow)
	opened, err := m.MaybeOpenNewPartition(ctx)
	require.NoError(t, err)
	require.True(t, opened)

	// live work pins the partition
	detached, err = m.MaybeDetachPartition(ctx, 1)
	require.NoError(t, err)
	assert.False(t, detached)

	test.FinishBatch(b, clk.Now(), nil)
	require.NoError(t, store.Batches().Update(ctx, b))
	require.NoError(t, op.Resume(clk.Now()))
	require.NoError(t, op.Finish(clk.Now()))
	require.NoError(t, store.Operations().Update(ctx, op))

	detached, err = m.MaybeDetachPartition(ctx, 1)
	require.NoError(t, err)
	assert.True(t, detached)
	assert.Equal(t, []int64{1}, archiver.calls)
	assert.Equal(t, 1, archiver.ops)
	assert.Equal(t, 1, archiver.batches)

	p, err := store.Partitions().Find(ctx, 1)
	require.NoError(t, err)
	assert.False(t, p.IsAttached())

	// already detached
	detached, err = m.MaybeDetachPartition(ctx, 1)
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestManager_MaintainReportsArchiveFailures(t *testing.T) {
	ctx := context.Background()
	archiver := &recordingArchiver{err: errors.New("bucket unavailable")}
	m, store, clk := newManager(t, partition.WithArchiver(archiver))

	op := test.NewTestOperation(1, 1, 10, test.Epoch)
	op.Status = model.OperationFailed
	require.NoError(t, store.Operations().Create(ctx, op))

	clk.Advance(partition.DefaultWindow)
	err := m.Maintain(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")

	// the partition was opened and the old one stays attached for the next cycle
	active, err := store.Partitions().Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.Number)
	p, err := store.Partitions().Find(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.IsAttached())

	archiver.err = nil
	require.NoError(t, m.Maintain(ctx))
	p, err = store.Partitions().Find(ctx, 1)
	require.NoError(t, err)
	assert.False(t, p.IsAttached())
}
