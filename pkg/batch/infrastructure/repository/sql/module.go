// Package sql persists Operations, Batches and partition descriptors in the partitioned
// backfill tables through the gorm adapter.
package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
)

// Module provides the SQL StoreRegistry.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewSQLStoreRegistry,
			fx.As(new(repository.StoreRegistry)),
		),
	),
)
