// Package gorm implements the database ports on top of GORM: connections, transactions,
// the dialector registry and the connection resolver.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbconfig "github.com/tigerroll/backfill/pkg/batch/adapter/database/config"
	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	"github.com/tigerroll/backfill/pkg/batch/support/util/logger"
)

// Write operations accepted by ExecuteUpdate.
const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// executor implements adapter.DBExecutor over a *gorm.DB. It is shared by the
// connection adapter and the transaction adapter.
type executor struct {
	db     *gorm.DB
	dbType string
}

func (e *executor) session(ctx context.Context, tableName string) *gorm.DB {
	db := e.db.WithContext(ctx)
	if tableName != "" {
		db = db.Table(tableName)
	}
	return db
}

// ExecuteUpdate implements adapter.DBExecutor.
func (e *executor) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}, omit ...string) (int64, error) {
	db := e.session(ctx, tableName)

	var result *gorm.DB
	switch operation {
	case OpCreate:
		result = db.Create(model)

	case OpUpdate:
		// Select("*") writes zero values too, so clearing a nullable column works.
		db = db.Model(model).Select("*")
		if len(omit) > 0 {
			db = db.Omit(omit...)
		}
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Updates(model)

	case OpDelete:
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)

	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert implements adapter.DBExecutor.
func (e *executor) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := e.session(ctx, tableName)

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteQueryAdvanced implements adapter.DBExecutor.
func (e *executor) ExecuteQueryAdvanced(ctx context.Context, target interface{}, tableName string, query map[string]interface{}, orderBy string, limit int) error {
	db := e.session(ctx, tableName)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db.Find(target).Error
}

// Count implements adapter.DBExecutor.
func (e *executor) Count(ctx context.Context, tableName string, query map[string]interface{}) (int64, error) {
	db := e.session(ctx, tableName)
	if len(query) > 0 {
		db = db.Where(query)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Session implements adapter.DBExecutor.
func (e *executor) Session(ctx context.Context) *gorm.DB {
	return e.db.WithContext(ctx)
}

// IsTableNotExistError implements adapter.DBExecutor.
func (e *executor) IsTableNotExistError(err error) bool {
	return IsTableNotExistError(e.dbType, err)
}

// IsTableNotExistError reports whether err is the "no such table" error of dbType.
// An empty dbType checks every known dialect.
func IsTableNotExistError(dbType string, err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	postgres := strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist") ||
		strings.Contains(msg, "SQLSTATE 42P01")
	mysql := strings.Contains(msg, "Error 1146")
	sqlite := strings.Contains(msg, "no such table:")

	switch dbType {
	case "postgres", "redshift":
		return postgres
	case "mysql":
		return mysql
	case "sqlite":
		return sqlite
	default:
		return postgres || mysql || sqlite
	}
}

// GormDBAdapter implements adapter.DBConnection.
type GormDBAdapter struct {
	executor
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

// NewGormDBAdapter wraps an open *gorm.DB as a named connection.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB for '%s': %w", name, err)
	}
	return &GormDBAdapter{
		executor: executor{db: db, dbType: cfg.Type},
		sqlDB:    sqlDB,
		cfg:      cfg,
		name:     name,
	}, nil
}

// GetGormDB returns the underlying *gorm.DB instance.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

// Close implements adapter.ResourceConnection.
func (a *GormDBAdapter) Close() error {
	if a.sqlDB == nil {
		return nil
	}
	logger.Infof("Closing database connection '%s'...", a.name)
	return a.sqlDB.Close()
}

// Type implements adapter.ResourceConnection.
func (a *GormDBAdapter) Type() string {
	return a.dbType
}

// Name implements adapter.ResourceConnection.
func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements adapter.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection '%s' is not initialized", a.name)
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements adapter.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements adapter.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

var _ adapter.DBConnection = (*GormDBAdapter)(nil)
