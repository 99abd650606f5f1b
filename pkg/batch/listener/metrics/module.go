package metrics

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// Module contributes the MetricsListener. Inside this module the recorder is wrapped
// asynchronously; the rest of the application keeps the synchronous recorder.
var Module = fx.Module("listener.metrics",
	fx.Decorate(NewAsyncMetricRecorderWrapper),
	fx.Provide(fx.Annotate(
		NewMetricsListener,
		fx.As(new(scheduler.OperationListener)),
		fx.ResultTags(`group:"operation_listeners"`),
	)),
)
