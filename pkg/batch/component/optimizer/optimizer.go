// Package optimizer tunes the batch size of an Operation from how much of its interval
// recent Batches used.
package optimizer

import (
	"context"
	"math"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// TimeEfficiency grows the batch size while Batches finish well inside the interval and
// shrinks it when they use most of it. Efficiency is the mean duration of the recent
// succeeded Batches divided by the interval.
type TimeEfficiency struct {
	minEfficiency float64
	maxEfficiency float64
	minMultiplier float64
	maxMultiplier float64
	maxBatchSize  int64
}

// NewTimeEfficiency creates the optimizer from its configuration.
func NewTimeEfficiency(cfg config.OptimizerConfig) *TimeEfficiency {
	return &TimeEfficiency{
		minEfficiency: cfg.MinEfficiency,
		maxEfficiency: cfg.MaxEfficiency,
		minMultiplier: cfg.MinMultiplier,
		maxMultiplier: cfg.MaxMultiplier,
		maxBatchSize:  cfg.MaxBatchSize,
	}
}

// Efficiency returns the mean duration of the succeeded Batches in recent over interval,
// and false when there is none to measure.
func Efficiency(recent []*model.Batch, interval time.Duration) (float64, bool) {
	if interval <= 0 {
		return 0, false
	}
	var total time.Duration
	n := 0
	for _, b := range recent {
		if b.Status != model.BatchSucceeded {
			continue
		}
		total += b.Duration()
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float64(total) / float64(n) / float64(interval), true
}

func (o *TimeEfficiency) Optimize(ctx context.Context, op *model.Operation, recent []*model.Batch) error {
	efficiency, ok := Efficiency(recent, op.Interval)
	if !ok {
		return nil
	}
	if efficiency >= o.minEfficiency && efficiency <= o.maxEfficiency {
		return nil
	}

	target := (o.minEfficiency + o.maxEfficiency) / 2
	multiplier := o.maxMultiplier
	if efficiency > 0 {
		multiplier = math.Min(o.maxMultiplier, math.Max(o.minMultiplier, target/efficiency))
	}

	size := int64(math.Round(float64(op.BatchSize) * multiplier))
	limit := op.MaxBatchSize
	if limit <= 0 {
		limit = o.maxBatchSize
	}
	if limit > 0 && size > limit {
		size = limit
	}
	if size < op.SubBatchSize {
		size = op.SubBatchSize
	}
	if size != op.BatchSize {
		logger.Debugf("Operation (ID: %s) efficiency %.3f, batch size %d -> %d.", op.ID, efficiency, op.BatchSize, size)
		op.BatchSize = size
	}
	return nil
}

var _ scheduler.Optimizer = (*TimeEfficiency)(nil)

func newOptimizer(cfg *config.Config) scheduler.Optimizer {
	if cfg.Backfill.Optimizer.Disabled {
		return nil
	}
	return NewTimeEfficiency(cfg.Backfill.Optimizer)
}

// Module provides the optimizer unless it is disabled.
var Module = fx.Options(
	fx.Provide(newOptimizer),
)
