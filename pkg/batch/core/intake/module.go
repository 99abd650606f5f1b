package intake

import "go.uber.org/fx"

// Module provides the intake Service and its ConnectionRouter.
var Module = fx.Options(
	fx.Provide(NewConnectionRouter),
	fx.Provide(NewService),
)
