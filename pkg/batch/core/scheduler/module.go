package scheduler

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
)

// ListenerGroup is the Fx value group collecting OperationListeners.
const ListenerGroup = "operation_listeners"

// RunnerParams are the Fx dependencies of NewRunnerFromParams.
type RunnerParams struct {
	fx.In
	Stores     repository.StoreRegistry
	Strategies *StrategyRegistry
	Executor   Executor
	Health     HealthEvaluator     `optional:"true"`
	StopPolicy StopPolicy          `optional:"true"`
	Optimizer  Optimizer           `optional:"true"`
	Listeners  []OperationListener `group:"operation_listeners"`
	Tracer     metrics.Tracer
	Clock      clock.Clock
	Cfg        *config.Config
}

// NewRunnerFromParams builds a Runner from the configuration and the provided collaborators.
func NewRunnerFromParams(p RunnerParams) (*Runner, error) {
	sc := p.Cfg.Backfill.Scheduler
	return NewRunner(p.Stores, p.Strategies, p.Executor,
		WithHealthEvaluator(p.Health),
		WithStopPolicy(p.StopPolicy),
		WithOptimizer(p.Optimizer),
		WithListeners(p.Listeners...),
		WithTracer(p.Tracer),
		WithRunnerClock(p.Clock),
		WithCooldown(sc.Cooldown),
		WithRecentBatches(sc.RecentBatches),
	)
}

// Module provides the StrategyRegistry and the Runner.
var Module = fx.Options(
	fx.Provide(NewStrategyRegistryFromGroup),
	fx.Provide(NewRunnerFromParams),
)
