package metrics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/listener/metrics"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

type countingRecorder struct {
	coremetrics.NoOpMetricRecorder
	mu          sync.Mutex
	transitions []model.OperationStatus
	batches     []model.BatchStatus
	pacing      []int64
	signals     map[string]bool
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{signals: map[string]bool{}}
}

func (r *countingRecorder) RecordOperationTransition(ctx context.Context, op *model.Operation, from model.OperationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, op.Status)
}

func (r *countingRecorder) RecordBatchEnd(ctx context.Context, op *model.Operation, b *model.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b.Status)
}

func (r *countingRecorder) RecordPacing(ctx context.Context, op *model.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pacing = append(r.pacing, op.BatchSize)
}

func (r *countingRecorder) RecordHealthSignal(ctx context.Context, op *model.Operation, indicator string, stop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[indicator] = stop
}

func TestMetricsListener(t *testing.T) {
	ctx := context.Background()
	rec := newCountingRecorder()
	l := metrics.NewMetricsListener(rec)
	op := test.NewTestOperation(1, 1, 100, test.Epoch)

	op.Status = model.OperationActive
	l.OnOperationTransition(ctx, op, model.OperationQueued)
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(100), test.Epoch)
	test.FinishBatch(b, test.Epoch, errors.New("boom"))
	l.OnBatchFinished(ctx, op, b)
	l.OnHealthEvaluated(ctx, op, []scheduler.Signal{
		{Indicator: "autovacuum", Stop: true},
		{Indicator: "prometheus", Unavailable: true},
	})
	op.BatchSize = 120
	l.OnPacingAdjusted(ctx, op, 100)

	assert.Equal(t, []model.OperationStatus{model.OperationActive}, rec.transitions)
	assert.Equal(t, []model.BatchStatus{model.BatchFailed}, rec.batches)
	assert.Equal(t, []int64{100, 120}, rec.pacing)
	assert.Equal(t, map[string]bool{"autovacuum": true}, rec.signals)
}

func TestAsyncMetricRecorder_DrainsOnClose(t *testing.T) {
	rec := newCountingRecorder()
	async := metrics.NewAsyncMetricRecorder(16, rec)
	op := test.NewTestOperation(1, 1, 100, test.Epoch)

	for i := 0; i < 10; i++ {
		op.BatchSize = int64(100 + i)
		async.RecordPacing(context.Background(), op)
	}
	async.Close()
	async.Close()

	require.Len(t, rec.pacing, 10)
	assert.Equal(t, int64(100), rec.pacing[0], "queued events keep the values they were recorded with")
	assert.Equal(t, int64(109), rec.pacing[9])
}

type blockingRecorder struct {
	coremetrics.NoOpMetricRecorder
	release chan struct{}
	seen    chan struct{}
}

func (r *blockingRecorder) RecordPacing(ctx context.Context, op *model.Operation) {
	r.seen <- struct{}{}
	<-r.release
}

func TestAsyncMetricRecorder_DropsWhenFull(t *testing.T) {
	rec := &blockingRecorder{release: make(chan struct{}), seen: make(chan struct{}, 10)}
	async := metrics.NewAsyncMetricRecorder(1, rec)
	op := test.NewTestOperation(1, 1, 100, test.Epoch)

	async.RecordPacing(context.Background(), op)
	select {
	case <-rec.seen:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the first event")
	}
	async.RecordPacing(context.Background(), op)
	async.RecordPacing(context.Background(), op)

	close(rec.release)
	async.Close()
	assert.Len(t, rec.seen, 1, "one queued event is recorded, the overflow is dropped")
}
