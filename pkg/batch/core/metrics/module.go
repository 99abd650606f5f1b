// Package metrics defines the metrics and tracing ports of the scheduler.
package metrics

import (
	"go.uber.org/fx"
)

// Module provides no-op fallbacks. The infrastructure layer decorates them with real
// backends when metrics or telemetry are enabled.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
