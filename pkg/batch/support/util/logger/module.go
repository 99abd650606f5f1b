package logger

import (
	"context"

	"go.uber.org/fx"
)

// Module installs the fx event logger and flushes the zap core on shutdown.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
	fx.Invoke(func(lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				Sync()
				return nil
			},
		})
	}),
)
