package logging

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// Module contributes the LoggingListener to the operation_listeners group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingListener,
		fx.As(new(scheduler.OperationListener)),
		fx.ResultTags(`group:"operation_listeners"`),
	)),
)
