package executor

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
)

func builtinCopyColumn() NamedHandler {
	return NamedHandler{JobType: CopyColumnJob, Handler: HandlerFunc(CopyColumn)}
}

func builtinFillNull() NamedHandler {
	return NamedHandler{JobType: FillNullJob, Handler: HandlerFunc(FillNull)}
}

func newExecutor(resolver adapter.DBConnectionResolver, handlers *HandlerRegistry, clk clock.Clock, cfg *config.Config) scheduler.Executor {
	return NewBatchExecutor(resolver, handlers, clk, cfg.Backfill.Executor.SubBatchTimeout)
}

// Module provides the HandlerRegistry with the built-in jobs and the BatchExecutor.
var Module = fx.Options(
	fx.Provide(fx.Annotate(builtinCopyColumn, fx.ResultTags(`group:"job_handlers"`))),
	fx.Provide(fx.Annotate(builtinFillNull, fx.ResultTags(`group:"job_handlers"`))),
	fx.Provide(NewHandlerRegistryFromGroup),
	fx.Provide(newExecutor),
)
