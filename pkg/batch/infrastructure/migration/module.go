package migration

import "go.uber.org/fx"

// Module provides the schema Migrator.
var Module = fx.Options(
	fx.Provide(NewMigrator),
)
