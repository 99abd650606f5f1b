package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// Module exports the gorm adapter components (excluding the concrete DB providers,
// which come from the dialect subpackages).
var Module = fx.Options(
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) adapter.DBConnectionResolver { return r }),
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
