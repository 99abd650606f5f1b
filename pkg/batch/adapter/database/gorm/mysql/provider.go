// Package mysql provides the MySQL DBProvider and registers the MySQL dialector and
// timeout classification.
package mysql

import (
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/backfill/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/support/util/exception"
)

// Server error numbers treated as transient timeouts.
const (
	ErLockWaitTimeout      = 1205
	ErQueryInterrupted     = 1317
	ErQueryTimeoutExceeded = 3024 // max_execution_time
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
	exception.RegisterTimeoutClassifier(ClassifyTimeout)
}

// ConnectionString generates the go-sql-driver DSN. Times are parsed in UTC.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	mc := gomysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// ClassifyTimeout maps MySQL lock-wait, interruption and execution-time errors.
func ClassifyTimeout(err error) (string, bool) {
	var myErr *gomysql.MySQLError
	if !errors.As(err, &myErr) {
		return "", false
	}
	switch myErr.Number {
	case ErLockWaitTimeout:
		return exception.TimeoutLockWait, true
	case ErQueryTimeoutExceeded:
		return exception.TimeoutStatement, true
	case ErQueryInterrupted:
		return exception.TimeoutQueryCanceled, true
	}
	return "", false
}

// MySQLDBProvider implements adapter.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates the MySQL adapter.DBProvider.
func NewProvider(cfg *config.Config) adapter.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
