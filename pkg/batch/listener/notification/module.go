package notification

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// Module provides the LogNotifier and contributes the NotificationListener.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLogNotifier, fx.As(new(Notifier)))),
	fx.Provide(fx.Annotate(
		NewNotificationListener,
		fx.As(new(scheduler.OperationListener)),
		fx.ResultTags(`group:"operation_listeners"`),
	)),
)
