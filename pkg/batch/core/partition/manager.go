// Package partition rolls the Operation and Batch history forward through time-bounded
// partitions and detaches old partitions once they hold no live work.
package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// DefaultWindow is the age of the oldest row after which a new partition is opened.
const DefaultWindow = 14 * 24 * time.Hour

// Archiver copies the rows of a partition somewhere durable before its tables are dropped.
type Archiver interface {
	Archive(ctx context.Context, connection string, partition int64, ops []*model.Operation, batches []*model.Batch) error
}

// Manager maintains the partitions of one Store.
type Manager struct {
	store    repository.Store
	window   time.Duration
	clock    clock.Clock
	archiver Archiver
	recorder metrics.MetricRecorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithArchiver archives partition rows before they are dropped.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithRecorder reports partition changes to r.
func WithRecorder(r metrics.MetricRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a Manager for store.
func NewManager(store repository.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		window:   DefaultWindow,
		clock:    clock.System(),
		recorder: metrics.NewNoOpMetricRecorder(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection returns the connection name of the managed Store.
func (m *Manager) Connection() string {
	return m.store.Name()
}

// EnsureActivePartition bootstraps partition 1 on an empty database and makes sure the
// tables of the active partition exist.
func (m *Manager) EnsureActivePartition(ctx context.Context) (*model.Partition, error) {
	parts := m.store.Partitions()
	active, err := parts.Bootstrap(ctx, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := parts.EnsureTables(ctx, active.Number); err != nil {
		return nil, err
	}
	return active, nil
}

// MaybeOpenNewPartition opens partition N+1 when the oldest Operation or Batch of the active
// partition N is older than the window. It returns true only for the caller that moved the
// active partition; a caller losing the race gets false and no error.
func (m *Manager) MaybeOpenNewPartition(ctx context.Context) (bool, error) {
	const opName = "partition.Manager.MaybeOpenNewPartition"
	parts := m.store.Partitions()

	active, err := parts.Active(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", opName, err)
	}
	now := m.clock.Now()
	due, err := m.isDue(ctx, active.Number, now)
	if err != nil || !due {
		return false, err
	}

	next := active.Number + 1
	if err := parts.EnsureTables(ctx, next); err != nil {
		return false, err
	}
	swapped, err := parts.SwapActive(ctx, active.Number, next, now)
	if err != nil {
		return false, err
	}
	if swapped {
		logger.Infof("Opened partition %d on connection '%s' (previous: %d).", next, m.store.Name(), active.Number)
		m.recorder.RecordPartitionOpened(ctx, m.store.Name(), next)
	}
	return swapped, nil
}

// isDue reports whether either table of partition n holds a row older than the window.
func (m *Manager) isDue(ctx context.Context, n int64, now time.Time) (bool, error) {
	cutoff := now.Add(-m.window)
	oldestOp, err := m.store.Operations().OldestCreatedAt(ctx, n)
	if err != nil {
		return false, err
	}
	if oldestOp != nil && !oldestOp.After(cutoff) {
		return true, nil
	}
	oldestBatch, err := m.store.Batches().OldestCreatedAt(ctx, n)
	if err != nil {
		return false, err
	}
	return oldestBatch != nil && !oldestBatch.After(cutoff), nil
}

// MaybeDetachPartition archives and drops partition number once it is attached, not
// active, and holds no queued, active or paused Operation and no pending or running Batch.
func (m *Manager) MaybeDetachPartition(ctx context.Context, number int64) (bool, error) {
	const opName = "partition.Manager.MaybeDetachPartition"
	parts := m.store.Partitions()

	p, err := parts.Find(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrPartitionNotFound) {
			return false, nil
		}
		return false, err
	}
	if !p.IsAttached() || p.Active {
		return false, nil
	}

	liveOps, err := m.store.Operations().CountExecutable(ctx, number)
	if err != nil {
		return false, err
	}
	liveBatches, err := m.store.Batches().CountExecutable(ctx, number)
	if err != nil {
		return false, err
	}
	if liveOps > 0 || liveBatches > 0 {
		logger.Debugf("%s: partition %d on '%s' still has %d live operations and %d live batches.",
			opName, number, m.store.Name(), liveOps, liveBatches)
		return false, nil
	}

	if m.archiver != nil {
		if err := m.archive(ctx, number); err != nil {
			return false, fmt.Errorf("%s: archive of partition %d failed: %w", opName, number, err)
		}
	}

	now := m.clock.Now()
	err = tx.RunInTx(ctx, m.store.TxManager(), func(ctx context.Context) error {
		if err := parts.DropTables(ctx, number); err != nil {
			return err
		}
		return parts.MarkDetached(ctx, number, now)
	})
	if err != nil {
		return false, err
	}
	logger.Infof("Detached partition %d on connection '%s'.", number, m.store.Name())
	m.recorder.RecordPartitionDetached(ctx, m.store.Name(), number)
	return true, nil
}

func (m *Manager) archive(ctx context.Context, number int64) error {
	ops, err := m.store.Operations().ListByPartition(ctx, number)
	if err != nil {
		return err
	}
	batches, err := m.store.Batches().ListByPartition(ctx, number)
	if err != nil {
		return err
	}
	return m.archiver.Archive(ctx, m.store.Name(), number, ops, batches)
}

// Maintain opens a partition if due and then tries to detach every attached, non-active
// partition. All failures are collected; the caller logs them and retries next cycle.
func (m *Manager) Maintain(ctx context.Context) error {
	var result *multierror.Error

	if _, err := m.MaybeOpenNewPartition(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	parts, err := m.store.Partitions().ListAttached(ctx)
	if err != nil {
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}
	for _, p := range parts {
		if p.Active {
			continue
		}
		if _, err := m.MaybeDetachPartition(ctx, p.Number); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
