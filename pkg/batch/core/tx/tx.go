// Package tx provides the transaction abstraction used by the scheduler.
// A transaction travels through context.Context so repositories join it without
// changing their signatures.
package tx

import (
	"context"
	"database/sql"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
)

// Tx represents an ongoing database transaction.
// It embeds adapter.DBExecutor so data operations look the same with or without a transaction.
type Tx interface {
	adapter.DBExecutor

	// Savepoint creates a new savepoint within the current transaction.
	Savepoint(name string) error
	// RollbackToSavepoint rolls back the transaction to the named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the lifecycle of transactions on one connection.
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits tx.
	Commit(tx Tx) error
	// Rollback rolls back tx.
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates a TransactionManager for a connection.
type TransactionManagerFactory interface {
	NewTransactionManager(conn adapter.DBConnection) TransactionManager
}

type txKey struct{}

// WithTx returns a copy of ctx carrying tx.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}

// ExecutorFrom returns the transaction carried by ctx, or conn when there is none.
func ExecutorFrom(ctx context.Context, conn adapter.DBExecutor) adapter.DBExecutor {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return conn
}

// RunInTx runs fn inside a new transaction of m unless ctx already carries one,
// in which case fn joins it. The transaction is committed when fn returns nil
// and rolled back otherwise.
func RunInTx(ctx context.Context, m TransactionManager, fn func(ctx context.Context) error) (err error) {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}
	t, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = m.Rollback(t)
			panic(r)
		}
	}()
	if err = fn(WithTx(ctx, t)); err != nil {
		if rbErr := m.Rollback(t); rbErr != nil {
			return joinRollback(err, rbErr)
		}
		return err
	}
	return m.Commit(t)
}
