package local

import (
	"context"

	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/backfill/pkg/batch/adapter/storage"
)

// Module contributes the LocalProvider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(
		NewLocalProvider,
		fx.Annotate(
			func(p *LocalProvider) storageAdapter.StorageProvider { return p },
			fx.ResultTags(`group:"storage_providers"`),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, p *LocalProvider) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return p.CloseAll() }})
	}),
)
