// Package app assembles the backfill daemon from the library modules.
package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/backfill/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/backfill/pkg/batch/component/archive"
	"github.com/tigerroll/backfill/pkg/batch/component/executor"
	"github.com/tigerroll/backfill/pkg/batch/component/health"
	"github.com/tigerroll/backfill/pkg/batch/component/optimizer"
	"github.com/tigerroll/backfill/pkg/batch/component/policy"
	"github.com/tigerroll/backfill/pkg/batch/component/strategy"
	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/intake"
	coremetrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/core/partition"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/engine/daemon"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/lease"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/backfill/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/backfill/pkg/batch/listener"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// Options returns every module of the daemon. dbProviderOptions selects the database types
// that can be connected to.
func Options(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) fx.Option {
	return fx.Options(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		fx.Options(dbProviderOptions...),
		logger.Module,
		config.Module,
		fx.Invoke(applyLogLevel),
		coremetrics.Module,
		metrics.Module,

		gorm.Module,
		sqlrepo.Module,
		migration.Module,

		storage.Module,
		local.Module,
		gcs.Module,
		archive.Module,
		lease.Module,

		strategy.Module,
		executor.Module,
		health.Module,
		policy.Module,
		optimizer.Module,

		partition.Module,
		scheduler.Module,
		intake.Module,
		listener.Module,
		daemon.Module,
		Module,
	)
}

// RunApplication runs the daemon until appCtx is cancelled or the process is signalled.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, dbProviderOptions []fx.Option) {
	app := fx.New(
		Options(appCtx, envFilePath, embeddedConfig, dbProviderOptions),
		fx.Invoke(stopOnCancel),
	)
	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

func applyLogLevel(cfg *config.Config) {
	logger.SetLogLevel(cfg.Backfill.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Backfill.System.Logging.Level)
}

type stopParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	AppCtx     context.Context `name:"appCtx"`
}

// stopOnCancel shuts the application down once appCtx is done.
func stopOnCancel(p stopParams) {
	stop := make(chan struct{})
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				select {
				case <-p.AppCtx.Done():
					logger.Infof("Application context cancelled, shutting down.")
					if err := p.Shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				case <-stop:
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	})
}
