// Package migration applies the embedded schema migrations that create the partition
// descriptor table. The partition tables themselves are created at runtime.
package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable records the applied schema version.
const DefaultMigrationsTable = "backfill_schema_migrations"

//go:embed resource
var rawMigrationFS embed.FS

// Migrator applies the backfill schema to a connection.
type Migrator interface {
	Up(ctx context.Context, conn adapter.DBConnection) error
	Down(ctx context.Context, conn adapter.DBConnection) error
}

type migratorImpl struct {
	source    fs.FS
	tableName string
}

// NewMigrator creates a Migrator over the embedded migrations.
func NewMigrator() Migrator {
	sub, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to open embedded migrations: %v", err)
	}
	return &migratorImpl{source: sub, tableName: DefaultMigrationsTable}
}

// dialectDir maps a connection type to its migration directory.
func dialectDir(dbType string) (string, error) {
	switch dbType {
	case "postgres", "redshift":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
}

// instance builds a migrate instance for conn and returns the function that releases it.
//
// The postgres and mysql drivers pin a pooled connection and close the *sql.DB on Close,
// so they get a dedicated pool. sqlite keeps the shared handle (an in-memory database
// only exists on it) and only the source is closed.
func (m *migratorImpl) instance(conn adapter.DBConnection) (*migrate.Migrate, func(), error) {
	dir, err := dialectDir(conn.Type())
	if err != nil {
		return nil, nil, err
	}
	src, err := iofs.New(m.source, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", dir, err)
	}

	var driver database.Driver
	var dedicated adapter.DBConnection
	switch dir {
	case "sqlite":
		sqlDB, err := conn.GetSQLDB()
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: m.tableName})
		if err != nil {
			_ = src.Close()
			return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
		}
	default:
		dedicated, err = gormadapter.Open(conn.Config(), conn.Name()+"-migrate", "SILENT")
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		sqlDB, _ := dedicated.GetSQLDB()
		if dir == "postgres" {
			driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.tableName})
		} else {
			driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.tableName})
		}
		if err != nil {
			_ = src.Close()
			_ = dedicated.Close()
			return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
		}
	}

	mInstance, err := migrate.NewWithInstance("iofs", src, dir, driver)
	if err != nil {
		_ = src.Close()
		if dedicated != nil {
			_ = dedicated.Close()
		}
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	release := func() { closeSource(src) }
	if dedicated != nil {
		release = func() {
			if srcErr, dbErr := mInstance.Close(); srcErr != nil || dbErr != nil {
				logger.Warnf("Closing migration instance for '%s': source=%v, database=%v", conn.Name(), srcErr, dbErr)
			}
		}
	}
	return mInstance, release, nil
}

func closeSource(src source.Driver) {
	if err := src.Close(); err != nil {
		logger.Warnf("Closing migration source: %v", err)
	}
}

func (m *migratorImpl) run(ctx context.Context, conn adapter.DBConnection, command string) error {
	logger.Infof("Executing migration '%s' on connection '%s' (table: %s)", command, conn.Name(), m.tableName)

	mInstance, release, err := m.instance(conn)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer release()

	var migrateErr error
	switch command {
	case "up":
		migrateErr = mInstance.Up()
	case "down":
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if version, dirty, vErr := mInstance.Version(); vErr == nil {
			logger.Errorf("Migration '%s' failed at version %d (dirty: %t)", command, version, dirty)
		}
		return fmt.Errorf("migration failed for command '%s' (connection: %s): %w", command, conn.Name(), migrateErr)
	}

	logger.Infof("Migration '%s' on connection '%s' completed.", command, conn.Name())
	return nil
}

func (m *migratorImpl) Up(ctx context.Context, conn adapter.DBConnection) error {
	return m.run(ctx, conn, "up")
}

func (m *migratorImpl) Down(ctx context.Context, conn adapter.DBConnection) error {
	return m.run(ctx, conn, "down")
}
