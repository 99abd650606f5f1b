// Package listener aggregates the OperationListeners contributed to the scheduler.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/listener/logging"
	"github.com/tigerroll/backfill/pkg/batch/listener/metrics"
	"github.com/tigerroll/backfill/pkg/batch/listener/notification"
	"github.com/tigerroll/backfill/pkg/batch/listener/tracing"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	tracing.Module,
	notification.Module,
)
