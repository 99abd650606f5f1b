// Package repository defines the persistence ports of the backfill scheduler.
package repository

import (
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
)

// Store groups the repositories of one database connection.
// Operations and their Batches live in the database that owns the target table,
// so every connection has its own Store and its own partition set.
type Store interface {
	// Name returns the connection name the Store is bound to.
	Name() string
	Operations() OperationRepository
	Batches() BatchRepository
	Partitions() PartitionRepository
	// TxManager returns the transaction manager of the connection.
	// Repository calls made with a context returned by tx.WithTx run inside that transaction.
	TxManager() tx.TransactionManager
}

// StoreRegistry resolves the Store of a connection name.
type StoreRegistry interface {
	Store(name string) (Store, error)
	Names() []string
}
