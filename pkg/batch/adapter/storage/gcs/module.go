package gcs

import (
	"context"

	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/backfill/pkg/batch/adapter/storage"
)

// Module contributes the GCSProvider to the storage_providers group.
var Module = fx.Options(
	fx.Provide(
		NewGCSProvider,
		fx.Annotate(
			func(p *GCSProvider) storageAdapter.StorageProvider { return p },
			fx.ResultTags(`group:"storage_providers"`),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, p *GCSProvider) {
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return p.CloseAll() }})
	}),
)
