package metrics

import (
	"context"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// MetricsListener forwards scheduler events to a MetricRecorder.
type MetricsListener struct {
	recorder metrics.MetricRecorder
}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener(recorder metrics.MetricRecorder) *MetricsListener {
	return &MetricsListener{recorder: recorder}
}

func (l *MetricsListener) OnOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	l.recorder.RecordOperationTransition(ctx, op, from)
	if from == model.OperationQueued {
		l.recorder.RecordPacing(ctx, op)
	}
}

func (l *MetricsListener) OnBatchFinished(ctx context.Context, op *model.Operation, b *model.Batch) {
	l.recorder.RecordBatchEnd(ctx, op, b)
}

func (l *MetricsListener) OnHealthEvaluated(ctx context.Context, op *model.Operation, signals []scheduler.Signal) {
	for _, s := range signals {
		if s.Unavailable {
			continue
		}
		l.recorder.RecordHealthSignal(ctx, op, s.Indicator, s.Stop)
	}
}

func (l *MetricsListener) OnPacingAdjusted(ctx context.Context, op *model.Operation, previousBatchSize int64) {
	l.recorder.RecordPacing(ctx, op)
}

var _ scheduler.OperationListener = (*MetricsListener)(nil)
