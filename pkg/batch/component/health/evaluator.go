// Package health reads database and monitoring indicators and turns them into the stop
// signals that pause Operations.
package health

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// IndicatorGroup is the Fx value group collecting Indicators.
const IndicatorGroup = "health_indicators"

// Indicator reads one health source.
type Indicator interface {
	Name() string
	Evaluate(ctx context.Context, hc scheduler.HealthContext) (scheduler.Signal, error)
}

// Evaluator reads every Indicator. An indicator that fails yields an unavailable signal,
// which never stops work.
type Evaluator struct {
	indicators []Indicator
}

// EvaluatorParams are the Fx dependencies of NewEvaluatorFromGroup.
type EvaluatorParams struct {
	fx.In
	Indicators []Indicator `group:"health_indicators"`
}

// NewEvaluator creates an Evaluator over indicators.
func NewEvaluator(indicators ...Indicator) *Evaluator {
	var kept []Indicator
	for _, i := range indicators {
		if i != nil {
			kept = append(kept, i)
		}
	}
	return &Evaluator{indicators: kept}
}

// NewEvaluatorFromGroup builds an Evaluator from the Fx value group.
func NewEvaluatorFromGroup(p EvaluatorParams) scheduler.HealthEvaluator {
	return NewEvaluator(p.Indicators...)
}

func (e *Evaluator) Evaluate(ctx context.Context, hc scheduler.HealthContext) ([]scheduler.Signal, error) {
	signals := make([]scheduler.Signal, 0, len(e.indicators))
	for _, ind := range e.indicators {
		s, err := ind.Evaluate(ctx, hc)
		if err != nil {
			logger.Warnf("Health indicator '%s' is unavailable for %s: %v", ind.Name(), hc.Connection, err)
			s = scheduler.Signal{Indicator: ind.Name(), Unavailable: true, Reason: err.Error()}
		}
		if s.Indicator == "" {
			s.Indicator = ind.Name()
		}
		if s.Unavailable {
			s.Stop = false
		}
		signals = append(signals, s)
	}
	return signals, nil
}

var _ scheduler.HealthEvaluator = (*Evaluator)(nil)
