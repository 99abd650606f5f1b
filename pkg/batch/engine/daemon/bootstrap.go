package daemon

import (
	"context"
	"fmt"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// Bootstrapper prepares every connection before the Worker starts: it applies the schema
// migrations and makes sure an active partition exists.
type Bootstrapper struct {
	resolver adapter.DBConnectionResolver
	migrator migration.Migrator
	managers ManagerSource
}

// NewBootstrapper creates a Bootstrapper.
func NewBootstrapper(resolver adapter.DBConnectionResolver, migrator migration.Migrator, managers ManagerSource) *Bootstrapper {
	return &Bootstrapper{resolver: resolver, migrator: migrator, managers: managers}
}

// Run prepares the connections in order and stops at the first failure.
func (b *Bootstrapper) Run(ctx context.Context) error {
	const opName = "Bootstrapper.Run"
	for _, name := range b.managers.Names() {
		conn, err := b.resolver.ResolveDBConnection(ctx, name)
		if err != nil {
			return exception.NewBackfillError(opName, fmt.Sprintf("failed to resolve connection '%s'", name), err, true)
		}
		if err := b.migrator.Up(ctx, conn); err != nil {
			return exception.NewBackfillError(opName, fmt.Sprintf("failed to migrate connection '%s'", name), err, false)
		}
		m, err := b.managers.Manager(name)
		if err != nil {
			return err
		}
		p, err := m.EnsureActivePartition(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Connection '%s' ready, active partition %d.", name, p.Number)
	}
	return nil
}
