package strategy

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

func namedPrimaryKey(resolver adapter.DBConnectionResolver) scheduler.NamedStrategy {
	return scheduler.NamedStrategy{Name: PrimaryKeyName, Strategy: NewPrimaryKeyStrategy(resolver)}
}

func namedIntegerRange() scheduler.NamedStrategy {
	return scheduler.NamedStrategy{Name: IntegerRangeName, Strategy: NewIntegerRangeStrategy()}
}

// Module contributes the built-in strategies to the scheduler's strategy group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(namedPrimaryKey, fx.ResultTags(`group:"batching_strategies"`))),
	fx.Provide(fx.Annotate(namedIntegerRange, fx.ResultTags(`group:"batching_strategies"`))),
)
