package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction.
type GormTxAdapter struct {
	executor
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager implements tx.TransactionManager for one named connection.
// The connection is resolved on every Begin so a reconnected pool is picked up.
type GormTransactionManager struct {
	dbResolver adapter.DBConnectionResolver
	dbName     string
	conn       adapter.DBConnection
}

// NewGormTransactionManager creates a transaction manager bound directly to conn.
func NewGormTransactionManager(conn adapter.DBConnection) *GormTransactionManager {
	return &GormTransactionManager{dbName: conn.Name(), conn: conn}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn := m.conn
	if m.dbResolver != nil {
		resolved, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
		}
		conn = resolved
	}
	gormAdapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("internal error: DBConnection '%s' is %T, not *GormDBAdapter", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 {
		txOpts = opts[0]
	}

	gormTx := gormAdapter.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.dbName, gormTx.Error)
	}
	return &GormTxAdapter{executor: executor{db: gormTx, dbType: gormAdapter.Type()}}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	db, err := unwrapTx(t)
	if err != nil {
		return err
	}
	return db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	db, err := unwrapTx(t)
	if err != nil {
		return err
	}
	return db.Rollback().Error
}

func unwrapTx(t tx.Tx) (*gorm.DB, error) {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	return gormTx.db, nil
}

// GormTransactionManagerFactory is the GORM implementation of tx.TransactionManagerFactory.
type GormTransactionManagerFactory struct {
	dbResolver adapter.DBConnectionResolver
}

// NewGormTransactionManagerFactory creates a GormTransactionManagerFactory.
func NewGormTransactionManagerFactory(dbResolver adapter.DBConnectionResolver) tx.TransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

// NewTransactionManager implements tx.TransactionManagerFactory.
func (f *GormTransactionManagerFactory) NewTransactionManager(conn adapter.DBConnection) tx.TransactionManager {
	return &GormTransactionManager{
		dbResolver: f.dbResolver,
		dbName:     conn.Name(),
		conn:       conn,
	}
}

var (
	_ tx.Tx                 = (*GormTxAdapter)(nil)
	_ tx.TransactionManager = (*GormTransactionManager)(nil)
)
