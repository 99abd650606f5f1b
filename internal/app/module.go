package app

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/backfill/pkg/batch/core/intake"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
)

// DBProviderMap maps a database type to the module registering its DBProvider.
var DBProviderMap = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// Module provides the application-level bindings shared by the scheduler packages.
var Module = fx.Options(
	fx.Provide(clock.System),
	fx.Provide(func(r *scheduler.StrategyRegistry) intake.StrategyCatalog { return r }),
)
