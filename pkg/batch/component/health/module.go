package health

import (
	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// IndicatorsParams are the Fx dependencies of the configured indicators.
type IndicatorsParams struct {
	fx.In
	Resolver adapter.DBConnectionResolver
	Cfg      *config.Config
	Clock    clock.Clock
}

// IndicatorsResult contributes the enabled indicators to the value group.
type IndicatorsResult struct {
	fx.Out
	Indicators []Indicator `group:"health_indicators,flatten"`
}

// NewConfiguredIndicators creates the indicators enabled in the configuration.
func NewConfiguredIndicators(p IndicatorsParams) (IndicatorsResult, error) {
	hc := p.Cfg.Backfill.Health
	var indicators []Indicator
	if hc.Autovacuum.Enabled {
		indicators = append(indicators, NewAutovacuumIndicator(p.Resolver))
	}
	if hc.Prometheus.Address != "" && len(hc.Prometheus.Queries) > 0 {
		prom, err := NewPrometheusIndicator(hc.Prometheus, p.Clock)
		if err != nil {
			return IndicatorsResult{}, err
		}
		indicators = append(indicators, prom)
	}
	logger.Infof("Health indicators enabled: %d", len(indicators))
	return IndicatorsResult{Indicators: indicators}, nil
}

// Module provides the health evaluator.
var Module = fx.Options(
	fx.Provide(NewConfiguredIndicators),
	fx.Provide(NewEvaluatorFromGroup),
)
