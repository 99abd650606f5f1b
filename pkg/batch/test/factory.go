// Package test provides fixtures shared by the package tests: in-memory sqlite Stores,
// Operation builders and mocks of the connection ports.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/backfill/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/backfill/pkg/batch/infrastructure/repository/sql"
)

// Epoch is the fixed start time used by clock-driven tests.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// OpenSQLite opens a private in-memory sqlite connection named name.
// A single pooled connection keeps the database alive for the whole test.
func OpenSQLite(t *testing.T, name string) *gormadapter.GormDBAdapter {
	t.Helper()
	conn, err := gormadapter.Open(dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}, name, "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// NewSQLiteStore returns a migrated Store with partition 1 bootstrapped at now.
func NewSQLiteStore(t *testing.T, name string, now time.Time) (*sqlrepo.SQLStore, *gormadapter.GormDBAdapter) {
	t.Helper()
	ctx := context.Background()
	conn := OpenSQLite(t, name)
	require.NoError(t, migration.NewMigrator().Up(ctx, conn))

	store := sqlrepo.NewSQLStore(conn, gormadapter.NewGormTransactionManager(conn))
	_, err := store.Partitions().Bootstrap(ctx, now)
	require.NoError(t, err)
	return store, conn
}
