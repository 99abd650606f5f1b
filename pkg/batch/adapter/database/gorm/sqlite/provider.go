// Package sqlite provides the SQLite DBProvider and registers the SQLite dialector and
// timeout classification.
package sqlite

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
	exception.RegisterTimeoutClassifier(ClassifyTimeout)
}

// ConnectionString returns the SQLite DSN. File databases get a busy timeout so
// concurrent writers wait instead of failing immediately.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Database == ":memory:" || strings.Contains(c.Database, "?") {
		return c.Database
	}
	return c.Database + "?_busy_timeout=5000"
}

// ClassifyTimeout maps SQLITE_BUSY and SQLITE_LOCKED to a lock-wait timeout.
func ClassifyTimeout(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return exception.TimeoutLockWait, true
	case sqlite3.ErrInterrupt:
		return exception.TimeoutQueryCanceled, true
	}
	return "", false
}

// SQLiteDBProvider implements adapter.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the SQLite adapter.DBProvider.
func NewProvider(cfg *config.Config) adapter.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
