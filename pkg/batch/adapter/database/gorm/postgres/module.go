package postgres

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// Module exports the PostgreSQL DBProvider into the db_providers group.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.As(new(adapter.DBProvider)),
			fx.ResultTags(`group:"`+adapter.DBProviderGroup+`"`),
		),
	),
)
