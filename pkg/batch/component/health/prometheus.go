package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"

	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// PrometheusName is the indicator name of PrometheusIndicator.
const PrometheusName = "prometheus"

// PrometheusIndicator runs threshold queries against the Prometheus HTTP API. A query whose
// result exceeds its threshold stops work. $table and $connection in a query are replaced
// before it is sent.
type PrometheusIndicator struct {
	api     promv1.API
	queries []config.PrometheusQueryConfig
	timeout time.Duration
	clock   clock.Clock
}

// NewPrometheusIndicator creates a PrometheusIndicator for the configured server.
func NewPrometheusIndicator(cfg config.PrometheusHealthConfig, clk clock.Clock) (*PrometheusIndicator, error) {
	client, err := api.NewClient(api.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client for %s: %w", cfg.Address, err)
	}
	if clk == nil {
		clk = clock.System()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PrometheusIndicator{api: promv1.NewAPI(client), queries: cfg.Queries, timeout: timeout, clock: clk}, nil
}

func (i *PrometheusIndicator) Name() string {
	return PrometheusName
}

func (i *PrometheusIndicator) Evaluate(ctx context.Context, hc scheduler.HealthContext) (scheduler.Signal, error) {
	signal := scheduler.Signal{Indicator: PrometheusName}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	for _, q := range i.queries {
		for _, table := range tablesOf(hc) {
			value, err := i.query(ctx, expand(q.Query, table, hc.Connection))
			if err != nil {
				return signal, fmt.Errorf("query '%s': %w", q.Name, err)
			}
			if value > q.Threshold {
				signal.Stop = true
				signal.Reason = fmt.Sprintf("%s is %.4g for %s, above %.4g", q.Name, value, table, q.Threshold)
				return signal, nil
			}
		}
	}
	return signal, nil
}

// query returns the largest sample of an instant query, or 0 when it has none.
func (i *PrometheusIndicator) query(ctx context.Context, expr string) (float64, error) {
	result, warnings, err := i.api.Query(ctx, expr, i.clock.Now())
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		logger.Debugf("Prometheus warning for '%s': %s", expr, w)
	}

	var peak float64
	switch v := result.(type) {
	case prommodel.Vector:
		for j, s := range v {
			if j == 0 || float64(s.Value) > peak {
				peak = float64(s.Value)
			}
		}
	case *prommodel.Scalar:
		peak = float64(v.Value)
	default:
		return 0, fmt.Errorf("unsupported result type %s", result.Type())
	}
	return peak, nil
}

func tablesOf(hc scheduler.HealthContext) []string {
	if len(hc.Tables) == 0 {
		return []string{""}
	}
	return hc.Tables
}

func expand(query, table, connection string) string {
	return strings.NewReplacer("$table", table, "$connection", connection).Replace(query)
}

var _ Indicator = (*PrometheusIndicator)(nil)
