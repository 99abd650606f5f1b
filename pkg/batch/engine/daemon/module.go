package daemon

import (
	"context"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/lease"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// WorkerParams are the Fx dependencies of NewWorkerFromConfig.
type WorkerParams struct {
	fx.In
	Provider *partition.Provider
	Runner   *scheduler.Runner
	Locker   lease.Locker
	Tracer   metrics.Tracer
	Cfg      *config.Config
}

// NewWorkerFromConfig builds the Worker from backfill.scheduler.
func NewWorkerFromConfig(p WorkerParams) *Worker {
	sc := p.Cfg.Backfill.Scheduler
	return NewWorker(p.Provider, p.Runner, p.Locker,
		WithPollInterval(sc.PollInterval),
		WithConcurrency(sc.Concurrency),
		WithSchedulableLimit(sc.SchedulableLimit),
		WithWorkerTracer(p.Tracer),
	)
}

// NewMaintenanceFromConfig builds the Maintenance loop from backfill.partition.
func NewMaintenanceFromConfig(provider *partition.Provider, tracer metrics.Tracer, recorder metrics.MetricRecorder, cfg *config.Config) (*Maintenance, error) {
	return NewMaintenance(provider, cfg.Backfill.Partition.MaintenanceSchedule, tracer, recorder)
}

func newBootstrapper(resolver adapter.DBConnectionResolver, migrator migration.Migrator, provider *partition.Provider) *Bootstrapper {
	return NewBootstrapper(resolver, migrator, provider)
}

type lifecycleParams struct {
	fx.In
	Lifecycle   fx.Lifecycle
	AppCtx      context.Context `name:"appCtx" optional:"true"`
	Bootstrap   *Bootstrapper
	Worker      *Worker
	Maintenance *Maintenance
}

// registerHooks bootstraps the connections on start, then runs the Worker and the
// Maintenance loop until the application stops.
func registerHooks(p lifecycleParams) {
	parent := p.AppCtx
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Bootstrap.Run(ctx); err != nil {
				cancel()
				return err
			}
			if err := p.Maintenance.Start(runCtx); err != nil {
				cancel()
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Worker.Run(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Stopping the scheduler daemon.")
			cancel()
			stopErr := p.Maintenance.Stop(ctx)
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Warnf("Scheduler worker did not stop before the shutdown deadline.")
				return ctx.Err()
			}
			return stopErr
		},
	})
}

// Module provides the Worker, the Maintenance loop and the Bootstrapper and ties them to the
// application lifecycle.
var Module = fx.Options(
	fx.Provide(NewWorkerFromConfig),
	fx.Provide(NewMaintenanceFromConfig),
	fx.Provide(newBootstrapper),
	fx.Invoke(registerHooks),
)
