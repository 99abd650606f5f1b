package mysql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// Module exports the MySQL DBProvider into the db_providers group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.As(new(adapter.DBProvider)),
			fx.ResultTags(`group:"`+adapter.DBProviderGroup+`"`),
		),
	),
)
