package metrics

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	metrics "github.com/tigerroll/backfill/pkg/batch/core/metrics"
)

func provideTelemetry(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg.Backfill.Telemetry)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// decorateRecorder replaces the no-op recorder with the backend named by backfill.metrics.backend.
func decorateRecorder(cfg *config.Config, base metrics.MetricRecorder, prom *PrometheusRecorder, tel *Telemetry) (metrics.MetricRecorder, error) {
	switch cfg.Backfill.Metrics.Backend {
	case "prometheus":
		return prom, nil
	case "otel":
		return NewOpenTelemetryRecorder(tel.MeterProvider)
	case "", "none":
		return base, nil
	default:
		return nil, fmt.Errorf("unsupported metrics backend: %s", cfg.Backfill.Metrics.Backend)
	}
}

// decorateTracer replaces the no-op tracer when telemetry is enabled.
func decorateTracer(base metrics.Tracer, tel *Telemetry) metrics.Tracer {
	if !tel.Enabled {
		return base
	}
	return NewOpenTelemetryTracer(tel.TracerProvider)
}

// Module decorates the no-op MetricRecorder and Tracer of the core metrics module.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(provideTelemetry),
	fx.Decorate(decorateRecorder),
	fx.Decorate(decorateTracer),
	fx.Invoke(registerServer),
)
