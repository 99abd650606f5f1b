// Package adapter defines the connection ports through which the scheduler reaches databases
// and object storage.
package adapter

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
)

// ResourceConnection represents a generic connection to any resource (e.g., database, storage).
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g., "postgres", "gcs").
	Type() string
	// Name returns the connection name (e.g., "main", "ci", "archive").
	Name() string
}

// DBExecutor defines the read and write operations available both on a connection and
// inside a transaction, so repositories work the same way with or without one.
type DBExecutor interface {
	// ExecuteUpdate performs CREATE, UPDATE or DELETE of model against tableName.
	// For UPDATE every column of model is written except those listed in omit,
	// and query is added to the primary key condition (e.g., a version check).
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}, omit ...string) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, resolving conflicts on conflictColumns.
	// An empty updateColumns means DO NOTHING.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQueryAdvanced selects rows of tableName into target with optional ordering and limit.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, tableName string, query map[string]interface{}, orderBy string, limit int) error

	// Count counts rows of tableName matching query.
	Count(ctx context.Context, tableName string, query map[string]interface{}) (int64, error)

	// Session returns a GORM session bound to ctx for queries the map based helpers cannot express.
	Session(ctx context.Context) *gorm.DB

	// IsTableNotExistError reports whether err means the table does not exist.
	IsTableNotExistError(err error) bool
}

// DBConnection is a named database connection.
type DBConnection interface {
	ResourceConnection
	DBExecutor

	// RefreshConnection pings the pool to re-validate the connection.
	RefreshConnection(ctx context.Context) error
	// Config returns the configuration the connection was opened with.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB.
	GetSQLDB() (*sql.DB, error)
}

// DBProvider opens and caches connections of one database type.
type DBProvider interface {
	GetConnection(name string) (DBConnection, error)
	CloseAll() error
	Type() string
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the fx value group all DBProvider implementations are collected in.
const DBProviderGroup = "db_providers"

// DBConnectionResolver resolves a connection by name across all registered providers.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}
