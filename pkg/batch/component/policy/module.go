package policy

import "go.uber.org/fx"

// Module provides the configured scheduler.StopPolicy.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
