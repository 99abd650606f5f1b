// Package policy provides the stop policies that escalate repeated Batch failures into a
// failed Operation.
package policy

import (
	"fmt"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	model "github.com/tigerroll/backfill/pkg/batch/core/domain/model"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// Policy types accepted in configuration.
const (
	TypeConsecutiveFailures = "consecutive_failures"
	TypeFailureRatio        = "failure_ratio"
	TypeAny                 = "any"
)

// ConsecutiveFailures stops after the N most recent Batches all failed.
type ConsecutiveFailures struct {
	N int
}

func (p ConsecutiveFailures) ShouldStop(op *model.Operation, recent []*model.Batch) bool {
	if p.N < 1 || len(recent) < p.N {
		return false
	}
	for _, b := range recent[:p.N] {
		if b.Status != model.BatchFailed {
			return false
		}
	}
	return true
}

// FailureRatio stops when at least Ratio of the recent Batches failed, once MinBatches
// have finished.
type FailureRatio struct {
	Ratio      float64
	MinBatches int
}

func (p FailureRatio) ShouldStop(op *model.Operation, recent []*model.Batch) bool {
	if p.Ratio <= 0 || len(recent) == 0 || len(recent) < p.MinBatches {
		return false
	}
	failed := 0
	for _, b := range recent {
		if b.Status == model.BatchFailed {
			failed++
		}
	}
	return float64(failed)/float64(len(recent)) >= p.Ratio
}

// AnyOf stops when any of its policies does.
type AnyOf []scheduler.StopPolicy

func (p AnyOf) ShouldStop(op *model.Operation, recent []*model.Batch) bool {
	for _, sp := range p {
		if sp.ShouldStop(op, recent) {
			return true
		}
	}
	return false
}

// NewFromConfig builds the configured stop policy.
func NewFromConfig(cfg *config.Config) (scheduler.StopPolicy, error) {
	sc := cfg.Backfill.StopPolicy
	consecutive := ConsecutiveFailures{N: sc.ConsecutiveFailures}
	ratio := FailureRatio{Ratio: sc.FailureRatio, MinBatches: sc.MinBatches}
	switch sc.Type {
	case TypeConsecutiveFailures:
		return consecutive, nil
	case TypeFailureRatio:
		return ratio, nil
	case TypeAny, "":
		return AnyOf{consecutive, ratio}, nil
	default:
		return nil, fmt.Errorf("unknown stop policy type '%s'", sc.Type)
	}
}

var (
	_ scheduler.StopPolicy = ConsecutiveFailures{}
	_ scheduler.StopPolicy = FailureRatio{}
	_ scheduler.StopPolicy = AnyOf(nil)
)
