package executor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// DefaultSubBatchTimeout bounds one sub-batch statement.
const DefaultSubBatchTimeout = 30 * time.Second

// BatchExecutor is the reference scheduler.Executor. It splits a Batch into sub-batches of
// SubBatchSize keys, runs each through the job handler with its own timeout and waits
// PauseMS between them.
type BatchExecutor struct {
	resolver   adapter.DBConnectionResolver
	handlers   *HandlerRegistry
	clock      clock.Clock
	subTimeout time.Duration
}

// NewBatchExecutor creates a BatchExecutor.
func NewBatchExecutor(resolver adapter.DBConnectionResolver, handlers *HandlerRegistry, clk clock.Clock, subTimeout time.Duration) *BatchExecutor {
	if subTimeout <= 0 {
		subTimeout = DefaultSubBatchTimeout
	}
	if clk == nil {
		clk = clock.System()
	}
	return &BatchExecutor{resolver: resolver, handlers: handlers, clock: clk, subTimeout: subTimeout}
}

// Perform runs b and moves it to succeeded or failed. Job errors, including transient
// timeouts, are recorded on the Batch and never returned.
func (e *BatchExecutor) Perform(ctx context.Context, b *model.Batch, op *model.Operation) error {
	const opName = "BatchExecutor.Perform"

	if err := e.run(ctx, b, op); err != nil {
		err = exception.WrapTimeout(err)
		if exception.IsTransientTimeout(err) {
			logger.Warnf("%s: Batch (ID: %s) of Operation (ID: %s) hit a transient timeout: %v", opName, b.ID, op.ID, err)
		} else {
			logger.Errorf("%s: Batch (ID: %s) of Operation (ID: %s) failed: %v", opName, b.ID, op.ID, err)
		}
		return b.MarkFailed(e.clock.Now(), err)
	}
	logger.Debugf("%s: Batch (ID: %s) %s succeeded.", opName, b.ID, b.Range())
	return b.MarkSucceeded(e.clock.Now())
}

func (e *BatchExecutor) run(ctx context.Context, b *model.Batch, op *model.Operation) error {
	handler, err := e.handlers.Lookup(op.JobType)
	if err != nil {
		return err
	}
	conn, err := e.resolver.ResolveDBConnection(ctx, op.Connection)
	if err != nil {
		return err
	}

	pause := time.Duration(b.PauseMS) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(pause), 1)
	for _, sub := range SubRanges(b.Range(), b.SubBatchSize) {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := e.runSub(ctx, handler, conn, op, sub); err != nil {
			return err
		}
	}
	return nil
}

func (e *BatchExecutor) runSub(ctx context.Context, h Handler, conn adapter.DBConnection, op *model.Operation, sub model.CursorRange) error {
	ctx, cancel := context.WithTimeout(ctx, e.subTimeout)
	defer cancel()
	return h.Handle(ctx, conn, op, sub)
}

// SubRanges splits an integer range into consecutive pieces of at most size keys. Other
// cursors cannot be split without reading the table and are returned whole.
func SubRanges(r model.CursorRange, size int64) []model.CursorRange {
	lo, okLo := r.Min.Int64At(0)
	hi, okHi := r.Max.Int64At(0)
	if !okLo || !okHi || len(r.Min) != 1 || len(r.Max) != 1 || size < 1 || hi < lo {
		return []model.CursorRange{r}
	}
	subs := make([]model.CursorRange, 0, (hi-lo)/size+1)
	for start := lo; start <= hi; start += size {
		end := start + size - 1
		if end > hi || end < start {
			end = hi
		}
		subs = append(subs, model.CursorRange{Min: model.IntCursor(start), Max: model.IntCursor(end)})
		if end == hi {
			break
		}
	}
	return subs
}

var _ scheduler.Executor = (*BatchExecutor)(nil)
