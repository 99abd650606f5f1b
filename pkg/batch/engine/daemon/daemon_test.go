package daemon_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	"github.com/tigerroll/backfill/pkg/batch/engine/daemon"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/lease"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/backfill/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

// recordingRunner records ticked Operation IDs and tracks the peak number of parallel ticks.
type recordingRunner struct {
	mu      sync.Mutex
	ticked  []string
	fail    map[string]error
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (r *recordingRunner) RunStep(ctx context.Context, op *model.Operation) error {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.ticked = append(r.ticked, op.ID)
	r.mu.Unlock()
	return r.fail[op.ID]
}

func newProvider(t *testing.T, stores repository.StoreRegistry, clk clock.Clock) *partition.Provider {
	t.Helper()
	return partition.NewProvider(partition.ProviderParams{
		Stores:   stores,
		Cfg:      config.NewConfig(),
		Clock:    clk,
		Recorder: metrics.NewNoOpMetricRecorder(),
	})
}

func seed(t *testing.T, store *sqlrepo.SQLStore, n int, now time.Time) []*model.Operation {
	t.Helper()
	ops := make([]*model.Operation, 0, n)
	for i := 0; i < n; i++ {
		op := test.NewTestOperation(1, 1, 1000, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Operations().Create(context.Background(), op))
		ops = append(ops, op)
	}
	return ops
}

func TestWorker_PollTicksEverySchedulableOperation(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	ops := seed(t, store, 3, test.Epoch)

	runner := &recordingRunner{}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, nil)

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{ops[0].ID, ops[1].ID, ops[2].ID}, runner.ticked)
}

func TestWorker_SkipsLeasedOperations(t *testing.T) {
	ctx := context.Background()
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	ops := seed(t, store, 3, test.Epoch)

	locker := lease.NewLocalLocker()
	held, ok, err := locker.TryAcquire(ctx, ops[1].ID)
	require.NoError(t, err)
	require.True(t, ok)

	runner := &recordingRunner{}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, locker)

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, runner.ticked, ops[1].ID)

	// leases taken by the worker are released after the tick
	require.NoError(t, held.Release(ctx))
	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWorker_StepErrorsDoNotStopThePoll(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	ops := seed(t, store, 3, test.Epoch)

	runner := &recordingRunner{fail: map[string]error{ops[0].ID: errors.New("store unavailable")}}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, nil)

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWorker_BoundsConcurrency(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	seed(t, store, 6, test.Epoch)

	runner := &recordingRunner{delay: 20 * time.Millisecond}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, nil,
		daemon.WithConcurrency(2))

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestWorker_HonoursSchedulableLimit(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	ops := seed(t, store, 4, test.Epoch)

	runner := &recordingRunner{}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, nil,
		daemon.WithSchedulableLimit(2))

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{ops[0].ID, ops[1].ID}, runner.ticked)
}

// extraNames adds connection names the wrapped source has no Store for.
type extraNames struct {
	*partition.Provider
	extra []string
}

func (e extraNames) Names() []string {
	return append(e.Provider.Names(), e.extra...)
}

func TestWorker_ReportsUnknownConnections(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	seed(t, store, 1, test.Epoch)

	source := extraNames{Provider: newProvider(t, test.NewStaticStoreRegistry(store), clk), extra: []string{"ci"}}
	w := daemon.NewWorker(source, &recordingRunner{}, nil)

	n, err := w.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ci")
	assert.Equal(t, 1, n)
}

func TestWorker_RunStopsWithContext(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	seed(t, store, 1, test.Epoch)

	runner := &recordingRunner{}
	w := daemon.NewWorker(newProvider(t, test.NewStaticStoreRegistry(store), clk), runner, nil,
		daemon.WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.ticked) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewMaintenance_RejectsInvalidSchedule(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	provider := newProvider(t, test.NewStaticStoreRegistry(store), clock.NewManual(test.Epoch))

	_, err := daemon.NewMaintenance(provider, "every five minutes", nil, nil)
	require.Error(t, err)

	_, err = daemon.NewMaintenance(provider, "*/5 * * * *", nil, nil)
	require.NoError(t, err)
}

func TestMaintenance_RunOnceOpensDuePartition(t *testing.T) {
	ctx := context.Background()
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	clk := clock.NewManual(test.Epoch)
	seed(t, store, 1, test.Epoch)

	m, err := daemon.NewMaintenance(newProvider(t, test.NewStaticStoreRegistry(store), clk), "@every 5m", nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.RunOnce(ctx))
	active, err := store.Partitions().Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.Number)

	clk.Advance(15 * 24 * time.Hour)
	require.NoError(t, m.RunOnce(ctx))
	active, err = store.Partitions().Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active.Number)
}

func TestMaintenance_StartAndStop(t *testing.T) {
	store, _ := test.NewSQLiteStore(t, "main", test.Epoch)
	m, err := daemon.NewMaintenance(newProvider(t, test.NewStaticStoreRegistry(store), clock.NewManual(test.Epoch)), "@every 1h", nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, m.Stop(ctx))
}

func TestBootstrapper_MigratesAndActivatesPartition(t *testing.T) {
	ctx := context.Background()
	conn := test.OpenSQLite(t, "main")
	store := sqlrepo.NewSQLStore(conn, gormadapter.NewGormTransactionManager(conn))

	resolver := new(test.MockDBConnectionResolver)
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(conn, nil)

	b := daemon.NewBootstrapper(resolver, migration.NewMigrator(),
		newProvider(t, test.NewStaticStoreRegistry(store), clock.NewManual(test.Epoch)))
	require.NoError(t, b.Run(ctx))

	active, err := store.Partitions().Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active.Number)

	// a restart finds everything in place
	require.NoError(t, b.Run(ctx))
	resolver.AssertNumberOfCalls(t, "ResolveDBConnection", 2)
}

func TestBootstrapper_FailsOnUnresolvableConnection(t *testing.T) {
	conn := test.OpenSQLite(t, "main")
	store := sqlrepo.NewSQLStore(conn, gormadapter.NewGormTransactionManager(conn))

	resolver := new(test.MockDBConnectionResolver)
	resolver.On("ResolveDBConnection", mock.Anything, "main").Return(nil, errors.New("connection refused"))

	b := daemon.NewBootstrapper(resolver, migration.NewMigrator(),
		newProvider(t, test.NewStaticStoreRegistry(store), clock.NewManual(test.Epoch)))
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main")
}
