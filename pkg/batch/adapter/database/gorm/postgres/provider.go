// Package postgres provides the PostgreSQL DBProvider and registers the PostgreSQL
// dialector and timeout classification.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// SQLSTATE codes treated as transient timeouts.
const (
	SQLStateQueryCanceled    = "57014" // statement_timeout or pg_cancel_backend
	SQLStateLockNotAvailable = "55P03" // lock_timeout
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
	gormadapter.RegisterDialector("redshift", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.New(postgres.Config{DSN: ConnectionString(cfg), PreferSimpleProtocol: true}), nil
	})
	exception.RegisterTimeoutClassifier(ClassifyTimeout)
}

// ConnectionString generates the key/value DSN expected by pgx.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}

// ClassifyTimeout maps PostgreSQL cancellation and lock timeouts.
func ClassifyTimeout(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case SQLStateQueryCanceled:
		return exception.TimeoutStatement, true
	case SQLStateLockNotAvailable:
		return exception.TimeoutLockWait, true
	}
	return "", false
}

// PostgresDBProvider implements adapter.DBProvider for PostgreSQL and Redshift connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the PostgreSQL adapter.DBProvider.
func NewProvider(cfg *config.Config) adapter.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}
