package scheduler

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
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

const (
	// DefaultCooldown is how long a stop signal holds an Operation.
	DefaultCooldown = 5 * time.Minute
	// DefaultRecentBatches is how many finished Batches the stop policy and optimizer see.
	DefaultRecentBatches = 20
)

var errNoOutcome = errors.New("executor returned without reporting an outcome")

// Runner advances Operations one tick at a time.
type Runner struct {
	stores     repository.StoreRegistry
	strategies *StrategyRegistry
	executor   Executor
	health     HealthEvaluator
	stopPolicy StopPolicy
	optimizer  Optimizer
	listeners  []OperationListener
	tracer     metrics.Tracer
	clock      clock.Clock

	cooldown      time.Duration
	recentBatches int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHealthEvaluator sets the health-signal source.
func WithHealthEvaluator(h HealthEvaluator) RunnerOption {
	return func(r *Runner) { r.health = h }
}

// WithStopPolicy sets the failure escalation policy.
func WithStopPolicy(p StopPolicy) RunnerOption {
	return func(r *Runner) { r.stopPolicy = p }
}

// WithOptimizer sets the pacing optimizer.
func WithOptimizer(o Optimizer) RunnerOption {
	return func(r *Runner) { r.optimizer = o }
}

// WithListeners registers OperationListeners.
func WithListeners(ls ...OperationListener) RunnerOption {
	return func(r *Runner) { r.listeners = append(r.listeners, ls...) }
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithRunnerClock overrides the system clock.
func WithRunnerClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// WithRecentBatches overrides DefaultRecentBatches.
func WithRecentBatches(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.recentBatches = n
		}
	}
}

// NewRunner creates a Runner. The default batching strategy must be registered.
func NewRunner(stores repository.StoreRegistry, strategies *StrategyRegistry, executor Executor, opts ...RunnerOption) (*Runner, error) {
	const opName = "scheduler.NewRunner"
	if stores == nil || strategies == nil || executor == nil {
		return nil, exception.NewBackfillErrorf(opName, "stores, strategies and executor are required")
	}
	if !strategies.Has(model.DefaultBatchingStrategy) {
		return nil, exception.NewBackfillErrorf(opName, "default batching strategy '%s' is not registered", model.DefaultBatchingStrategy)
	}
	r := &Runner{
		stores:        stores,
		strategies:    strategies,
		executor:      executor,
		tracer:        metrics.NewNoOpTracer(),
		clock:         clock.System(),
		cooldown:      DefaultCooldown,
		recentBatches: DefaultRecentBatches,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type transition struct {
	op   *model.Operation
	from model.OperationStatus
}

// RunStep performs one tick of op: it finds or creates the next Batch, executes it and
// applies health, escalation and conclusion rules. op is refreshed with the persisted state.
// Batch failures are recorded on the Batch; an error is returned only when a collaborator
// or the store raises.
func (r *Runner) RunStep(ctx context.Context, op *model.Operation) error {
	const opName = "Runner.RunStep"

	ctx, end := r.tracer.StartTickSpan(ctx, op)
	defer end()

	now := r.clock.Now()
	if op.Status.IsTerminal() || op.IsOnHold(now) {
		return nil
	}

	store, err := r.stores.Store(op.Connection)
	if err != nil {
		return err
	}
	last, err := store.Batches().LastAttemptAt(ctx, op)
	if err != nil {
		return err
	}
	if !op.IntervalElapsed(last, now) {
		logger.Debugf("%s: Operation (ID: %s) interval has not elapsed, skipping.", opName, op.ID)
		return nil
	}

	current, batch, transitions, err := r.prepare(ctx, store, op, now)
	if err != nil {
		r.tracer.RecordError(ctx, opName, err)
		return err
	}
	*op = *current
	r.notifyTransitions(ctx, transitions)
	if batch == nil {
		return nil
	}

	performErr := r.execute(ctx, store, op, batch)
	r.notifyBatch(ctx, op, batch)
	if performErr != nil {
		r.tracer.RecordError(ctx, opName, performErr)
		return exception.NewBackfillError(opName,
			fmt.Sprintf("executor raised for Batch (ID: %s) of Operation (ID: %s)", batch.ID, op.ID), performErr, true)
	}

	signals := r.evaluateHealth(ctx, op)

	current, transitions, previousBatchSize, err := r.settle(ctx, store, op, batch, signals)
	if err != nil {
		r.tracer.RecordError(ctx, opName, err)
		return err
	}
	*op = *current
	r.notifyTransitions(ctx, transitions)
	if previousBatchSize >= 0 {
		for _, l := range r.listeners {
			l.OnPacingAdjusted(ctx, op, previousBatchSize)
		}
	}
	return nil
}

// prepare is the first transaction of a tick: reload, activate, then reuse, carve or retry
// a Batch, or conclude when nothing is left.
func (r *Runner) prepare(ctx context.Context, store repository.Store, op *model.Operation, now time.Time) (*model.Operation, *model.Batch, []transition, error) {
	const opName = "Runner.prepare"

	strategy, err := r.strategies.Lookup(op.BatchingStrategyName)
	if err != nil {
		return nil, nil, nil, exception.NewBackfillError(opName, fmt.Sprintf("Operation (ID: %s)", op.ID), err, false)
	}

	var (
		current     *model.Operation
		batch       *model.Batch
		transitions []transition
	)
	err = tx.RunInTx(ctx, store.TxManager(), func(ctx context.Context) error {
		transitions = nil
		cur, err := store.Operations().FindByID(ctx, op.Partition, op.ID)
		if err != nil {
			return err
		}
		current = cur
		if cur.Status.IsTerminal() || cur.IsOnHold(now) {
			return nil
		}

		if cur.Status != model.OperationActive {
			from := cur.Status
			if err := cur.Resume(now); err != nil {
				return err
			}
			transitions = append(transitions, transition{op: snapshot(cur), from: from})
		}

		b, err := store.Batches().FindPending(ctx, cur)
		if err != nil {
			return err
		}
		if b == nil {
			if b, err = r.carve(ctx, store, strategy, cur, now); err != nil {
				return err
			}
		}
		if b == nil {
			if b, err = store.Batches().FindOldestRetriable(ctx, cur); err != nil {
				return err
			}
		}
		if b == nil {
			from := cur.Status
			concluded, err := conclude(ctx, store, cur, now)
			if err != nil {
				return err
			}
			if concluded {
				transitions = append(transitions, transition{op: snapshot(cur), from: from})
			}
		}
		batch = b

		cur.UpdatedAt = now
		return store.Operations().Update(ctx, cur)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return current, batch, transitions, nil
}

// carve asks the strategy for the range following NextCursor and creates a pending Batch.
// A nil Batch means the key space is exhausted.
func (r *Runner) carve(ctx context.Context, store repository.Store, strategy BatchingStrategy, op *model.Operation, now time.Time) (*model.Batch, error) {
	if op.IsExhausted() {
		return nil, nil
	}
	rng, err := strategy.NextBatch(ctx, BatchRequest{
		Connection: op.Connection,
		TableName:  op.TableName,
		ColumnName: op.ColumnName,
		From:       op.NextCursor,
		Max:        op.MaxCursor,
		BatchSize:  op.BatchSize,
		JobType:    op.JobType,
		Arguments:  op.Arguments,
	})
	if err != nil {
		return nil, err
	}
	if rng == nil || rng.Min.IsEmpty() || rng.Min.Compare(op.MaxCursor) > 0 {
		op.NextCursor = nil
		return nil, nil
	}

	lo := model.MaxCursor(rng.Min, op.NextCursor).Clamp(op.MinCursor, op.MaxCursor)
	hi := rng.Max
	if hi.IsEmpty() || hi.Compare(op.MaxCursor) > 0 {
		hi = op.MaxCursor
	}
	if hi.Compare(lo) < 0 {
		hi = lo
	}

	b := model.NewBatch(op, lo, hi, now)
	if err := store.Batches().Create(ctx, b); err != nil {
		return nil, err
	}
	op.AdvancePast(hi)
	return b, nil
}

// conclude finishes or fails op when no Batch is in flight or retriable.
func conclude(ctx context.Context, store repository.Store, op *model.Operation, now time.Time) (bool, error) {
	summary, err := store.Batches().Summarize(ctx, op)
	if err != nil {
		return false, err
	}
	if summary.InFlight() || summary.Retriable > 0 {
		return false, nil
	}
	if summary.Failed > 0 {
		return true, op.Fail(now)
	}
	return true, op.Finish(now)
}

// execute marks b running, hands it to the executor and persists the outcome.
func (r *Runner) execute(ctx context.Context, store repository.Store, op *model.Operation, b *model.Batch) error {
	if err := b.MarkRunning(r.clock.Now()); err != nil {
		return err
	}
	if err := store.Batches().Update(ctx, b); err != nil {
		return err
	}

	bctx, end := r.tracer.StartBatchSpan(ctx, op, b)
	performErr := r.executor.Perform(bctx, b, op)
	end()

	if b.Status == model.BatchRunning {
		cause := performErr
		if cause == nil {
			cause = errNoOutcome
		}
		if err := b.MarkFailed(r.clock.Now(), cause); err != nil {
			return err
		}
	}
	if performErr != nil {
		if err := store.Batches().Update(ctx, b); err != nil {
			logger.Errorf("Runner.execute: failed to persist Batch (ID: %s) after executor error: %v", b.ID, err)
			return multierror.Append(performErr,
				fmt.Errorf("Batch (ID: %s) is left %s: %w", b.ID, model.BatchRunning, err))
		}
	}
	return performErr
}

// evaluateHealth reads every indicator. An evaluator error is logged and treated as no signal.
func (r *Runner) evaluateHealth(ctx context.Context, op *model.Operation) []Signal {
	if r.health == nil {
		return nil
	}
	signals, err := r.health.Evaluate(ctx, HealthContext{
		Connection: op.Connection,
		Tables:     []string{op.TableName},
		Operation:  op,
	})
	if err != nil {
		logger.Warnf("Runner: health evaluation for Operation (ID: %s) failed: %v", op.ID, err)
		r.tracer.RecordError(ctx, "Runner.evaluateHealth", err)
		return nil
	}
	for _, l := range r.listeners {
		l.OnHealthEvaluated(ctx, op, signals)
	}
	return signals
}

// settle is the second transaction of a tick. It persists the executed Batch and applies
// escalation, early conclusion, pausing and optimization in that order of precedence.
// previousBatchSize is -1 when the optimizer did not run.
func (r *Runner) settle(ctx context.Context, store repository.Store, op *model.Operation, b *model.Batch, signals []Signal) (*model.Operation, []transition, int64, error) {
	var (
		current           *model.Operation
		transitions       []transition
		previousBatchSize int64
	)
	err := tx.RunInTx(ctx, store.TxManager(), func(ctx context.Context) error {
		transitions = nil
		previousBatchSize = -1
		now := r.clock.Now()

		if err := store.Batches().Update(ctx, b); err != nil {
			return err
		}
		cur, err := store.Operations().FindByID(ctx, op.Partition, op.ID)
		if err != nil {
			return err
		}
		current = cur
		if cur.Status.IsTerminal() {
			return nil
		}
		recent, err := store.Batches().FindRecentFinished(ctx, cur, r.recentBatches)
		if err != nil {
			return err
		}

		from := cur.Status
		switch {
		case b.Status == model.BatchFailed && r.stopPolicy != nil && r.stopPolicy.ShouldStop(cur, recent):
			logger.Warnf("Operation (ID: %s) failed: stop policy triggered by Batch (ID: %s): %s", cur.ID, b.ID, b.ErrorMessage)
			if err := cur.Fail(now); err != nil {
				return err
			}
		default:
			concluded := false
			if cur.IsExhausted() {
				if concluded, err = conclude(ctx, store, cur, now); err != nil {
					return err
				}
			}
			if concluded {
				break
			}
			if stop := firstStop(signals); stop != nil {
				logger.Infof("Operation (ID: %s) paused for %s: %s reported %s.", cur.ID, r.cooldown, stop.Indicator, stop.Reason)
				if err := cur.Pause(now.Add(r.cooldown), now); err != nil {
					return err
				}
			} else if r.optimizer != nil {
				previousBatchSize = cur.BatchSize
				if err := r.optimizer.Optimize(ctx, cur, recent); err != nil {
					return err
				}
				cur.EnforceFloors()
			}
		}
		if cur.Status != from {
			transitions = append(transitions, transition{op: snapshot(cur), from: from})
		}

		cur.UpdatedAt = now
		return store.Operations().Update(ctx, cur)
	})
	if err != nil {
		return nil, nil, -1, err
	}
	return current, transitions, previousBatchSize, nil
}

// snapshot copies op so listeners see the state of each transition.
func snapshot(op *model.Operation) *model.Operation {
	c := *op
	return &c
}

func firstStop(signals []Signal) *Signal {
	for i := range signals {
		if signals[i].Stop {
			return &signals[i]
		}
	}
	return nil
}

func (r *Runner) notifyTransitions(ctx context.Context, transitions []transition) {
	for _, t := range transitions {
		for _, l := range r.listeners {
			l.OnOperationTransition(ctx, t.op, t.from)
		}
	}
}

func (r *Runner) notifyBatch(ctx context.Context, op *model.Operation, b *model.Batch) {
	for _, l := range r.listeners {
		l.OnBatchFinished(ctx, op, b)
	}
}
