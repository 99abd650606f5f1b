package optimizer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/backfill/pkg/batch/component/optimizer"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/test"
)

func finished(op *model.Operation, took time.Duration, cause error) *model.Batch {
	b := model.NewBatch(op, model.IntCursor(1), model.IntCursor(10), test.Epoch)
	_ = b.MarkRunning(test.Epoch)
	if cause != nil {
		_ = b.MarkFailed(test.Epoch.Add(took), cause)
	} else {
		_ = b.MarkSucceeded(test.Epoch.Add(took))
	}
	return b
}

func newOperation(batchSize int64) *model.Operation {
	op := test.NewTestOperation(1, 1, 1000000, test.Epoch)
	op.Interval = 100 * time.Second
	op.BatchSize = batchSize
	op.SubBatchSize = 100
	return op
}

func TestEfficiency(t *testing.T) {
	op := newOperation(1000)
	_, ok := optimizer.Efficiency(nil, op.Interval)
	assert.False(t, ok)

	e, ok := optimizer.Efficiency([]*model.Batch{
		finished(op, 40*time.Second, nil),
		finished(op, 60*time.Second, nil),
		finished(op, 500*time.Second, errors.New("ignored")),
	}, op.Interval)
	require.True(t, ok)
	assert.InDelta(t, 0.5, e, 1e-9)
}

func TestTimeEfficiency_Optimize(t *testing.T) {
	cfg := config.NewConfig().Backfill.Optimizer
	cases := []struct {
		name      string
		batchSize int64
		maxBatch  int64
		took      time.Duration
		want      int64
	}{
		{name: "fast batches grow by the max multiplier", batchSize: 1000, took: 10 * time.Second, want: 1200},
		{name: "slightly fast batches grow proportionally", batchSize: 1000, took: 85 * time.Second, want: 1088},
		{name: "inside the band nothing changes", batchSize: 1000, took: 92 * time.Second, want: 1000},
		{name: "slow batches shrink", batchSize: 1000, took: 100 * time.Second, want: 925},
		{name: "very slow batches shrink by the min multiplier", batchSize: 1000, took: 300 * time.Second, want: 800},
		{name: "growth capped by the operation", batchSize: 1000, maxBatch: 1100, took: 10 * time.Second, want: 1100},
		{name: "shrink floored at the sub-batch size", batchSize: 110, took: 300 * time.Second, want: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := newOperation(tc.batchSize)
			op.MaxBatchSize = tc.maxBatch
			require.NoError(t, optimizer.NewTimeEfficiency(cfg).Optimize(context.Background(), op,
				[]*model.Batch{finished(op, tc.took, nil)}))
			assert.Equal(t, tc.want, op.BatchSize)
		})
	}
}

func TestTimeEfficiency_NoSamplesNoChange(t *testing.T) {
	op := newOperation(1000)
	o := optimizer.NewTimeEfficiency(config.NewConfig().Backfill.Optimizer)
	require.NoError(t, o.Optimize(context.Background(), op, []*model.Batch{finished(op, time.Second, errors.New("x"))}))
	assert.Equal(t, int64(1000), op.BatchSize)
}
