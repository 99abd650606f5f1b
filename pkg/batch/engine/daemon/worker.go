// Package daemon runs the scheduler in the background: a polling Worker that ticks schedulable
// Operations, a cron-driven partition Maintenance loop and the startup Bootstrapper.
package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/lease"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const module = "daemon"

// StepRunner performs one tick of an Operation.
type StepRunner interface {
	RunStep(ctx context.Context, op *model.Operation) error
}

// ManagerSource hands out the partition Manager of each connection.
type ManagerSource interface {
	Manager(name string) (*partition.Manager, error)
	Names() []string
}

// Worker polls every connection for schedulable Operations and ticks them through a bounded pool.
type Worker struct {
	managers ManagerSource
	runner   StepRunner
	locker   lease.Locker
	tracer   metrics.Tracer

	interval    time.Duration
	concurrency int
	limit       int

	inflight singleflight.Group
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithConcurrency bounds the number of Operations ticked at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithSchedulableLimit bounds the Operations fetched per connection and poll.
func WithSchedulableLimit(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.limit = n
		}
	}
}

// WithWorkerTracer sets the tracer step errors are recorded on.
func WithWorkerTracer(t metrics.Tracer) WorkerOption {
	return func(w *Worker) {
		if t != nil {
			w.tracer = t
		}
	}
}

// NewWorker creates a Worker. A nil locker means in-process leases only.
func NewWorker(managers ManagerSource, runner StepRunner, locker lease.Locker, opts ...WorkerOption) *Worker {
	if locker == nil {
		locker = lease.NewLocalLocker()
	}
	w := &Worker{
		managers:    managers,
		runner:      runner,
		locker:      locker,
		tracer:      metrics.NewNoOpTracer(),
		interval:    10 * time.Second,
		concurrency: 4,
		limit:       100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. Poll errors are logged and the next poll retries.
func (w *Worker) Run(ctx context.Context) {
	logger.Infof("Scheduler worker started (interval %s, concurrency %d).", w.interval, w.concurrency)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warnf("Scheduler poll finished with errors: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.Infof("Scheduler worker stopped.")
			return
		case <-ticker.C:
		}
	}
}

// Poll ticks every schedulable Operation once and returns how many were ticked.
// Listing errors are returned; step errors are logged and do not stop the poll.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	var (
		result *multierror.Error
		ticked atomic.Int64
	)
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)

	for _, name := range w.managers.Names() {
		if ctx.Err() != nil {
			break
		}
		m, err := w.managers.Manager(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		ops, err := m.SchedulableOperations(ctx, w.limit)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, op := range ops {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if w.step(ctx, op) {
					ticked.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return int(ticked.Load()), result.ErrorOrNil()
}

// step ticks op under its lease. It reports false when the lease is held elsewhere.
func (w *Worker) step(ctx context.Context, op *model.Operation) bool {
	v, _, _ := w.inflight.Do(op.ID, func() (interface{}, error) {
		l, ok, err := w.locker.TryAcquire(ctx, op.ID)
		if err != nil {
			logger.Warnf("Could not take the lease of Operation (ID: %s): %v", op.ID, err)
			return false, nil
		}
		if !ok {
			logger.Debugf("Operation (ID: %s) is leased by another worker, skipping.", op.ID)
			return false, nil
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warnf("Lease of Operation (ID: %s) was lost before release: %v", op.ID, err)
			}
		}()

		if err := w.runner.RunStep(ctx, op); err != nil {
			w.tracer.RecordError(ctx, module, err)
			logger.Errorf("Tick of Operation (ID: %s, table %s) failed: %v", op.ID, op.TableName, err)
		}
		return true, nil
	})
	ran, _ := v.(bool)
	return ran
}
