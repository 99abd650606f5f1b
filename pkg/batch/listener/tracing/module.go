package tracing

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// Module contributes the TracingListener. The Tracer itself is provided by core/metrics
// and decorated by infrastructure/metrics.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewTracingListener,
		fx.As(new(scheduler.OperationListener)),
		fx.ResultTags(`group:"operation_listeners"`),
	)),
)
