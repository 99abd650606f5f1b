package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/scheduler"
)

// AutovacuumName is the indicator name of AutovacuumIndicator.
const AutovacuumName = "autovacuum"

const autovacuumQuery = `SELECT c.relname FROM pg_stat_progress_vacuum v ` +
	`JOIN pg_class c ON c.oid = v.relid ` +
	`JOIN pg_stat_activity a ON a.pid = v.pid ` +
	`WHERE a.backend_type = 'autovacuum worker' AND c.relname IN ?`

// AutovacuumIndicator stops work on a table while autovacuum processes it. It only applies
// to PostgreSQL connections; other databases report a healthy signal.
type AutovacuumIndicator struct {
	resolver adapter.DBConnectionResolver
}

// NewAutovacuumIndicator creates an AutovacuumIndicator.
func NewAutovacuumIndicator(resolver adapter.DBConnectionResolver) *AutovacuumIndicator {
	return &AutovacuumIndicator{resolver: resolver}
}

func (i *AutovacuumIndicator) Name() string {
	return AutovacuumName
}

func (i *AutovacuumIndicator) Evaluate(ctx context.Context, hc scheduler.HealthContext) (scheduler.Signal, error) {
	signal := scheduler.Signal{Indicator: AutovacuumName}
	conn, err := i.resolver.ResolveDBConnection(ctx, hc.Connection)
	if err != nil {
		return signal, err
	}
	if t := conn.Type(); t != "postgres" && t != "redshift" {
		signal.Reason = fmt.Sprintf("not applicable to %s", t)
		return signal, nil
	}

	var vacuuming []string
	if err := conn.Session(ctx).Raw(autovacuumQuery, hc.Tables).Scan(&vacuuming).Error; err != nil {
		return signal, fmt.Errorf("failed to read vacuum progress: %w", err)
	}
	if len(vacuuming) > 0 {
		signal.Stop = true
		signal.Reason = fmt.Sprintf("autovacuum running on %s", strings.Join(vacuuming, ", "))
	}
	return signal, nil
}

var _ Indicator = (*AutovacuumIndicator)(nil)
