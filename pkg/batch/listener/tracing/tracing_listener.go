// Package tracing annotates the active scheduler span with Operation lifecycle events.
package tracing

import (
	"context"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// TracingListener adds span events for transitions, stop signals and pacing changes.
// Spans themselves are opened by the Runner.
type TracingListener struct {
	tracer metrics.Tracer
}

func NewTracingListener(tracer metrics.Tracer) *TracingListener {
	return &TracingListener{tracer: tracer}
}

func (l *TracingListener) OnOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	l.tracer.RecordEvent(ctx, "operation.transition", map[string]interface{}{
		"from": string(from),
		"to":   string(op.Status),
	})
}

func (l *TracingListener) OnBatchFinished(ctx context.Context, op *model.Operation, b *model.Batch) {
	l.tracer.RecordEvent(ctx, "batch.finished", map[string]interface{}{
		"batch_id": b.ID,
		"status":   string(b.Status),
		"attempts": b.Attempts,
	})
}

func (l *TracingListener) OnHealthEvaluated(ctx context.Context, op *model.Operation, signals []scheduler.Signal) {
	for _, s := range signals {
		if !s.Stop {
			continue
		}
		l.tracer.RecordEvent(ctx, "health.stop", map[string]interface{}{
			"indicator": s.Indicator,
			"reason":    s.Reason,
		})
	}
}

func (l *TracingListener) OnPacingAdjusted(ctx context.Context, op *model.Operation, previousBatchSize int64) {
	l.tracer.RecordEvent(ctx, "pacing.adjusted", map[string]interface{}{
		"previous_batch_size": previousBatchSize,
		"batch_size":          op.BatchSize,
	})
}

var _ scheduler.OperationListener = (*TracingListener)(nil)
