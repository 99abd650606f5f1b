package sql

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigerroll/backfill/pkg/batch/core/adapter"
	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/backfill/pkg/batch/core/tx"
)

// SQLStore binds the three repositories of one database connection.
type SQLStore struct {
	name       string
	tm         tx.TransactionManager
	operations *SQLOperationRepository
	batches    *SQLBatchRepository
	partitions *SQLPartitionRepository
}

// NewSQLStore creates the Store of conn. tm must manage transactions on the same connection.
func NewSQLStore(conn adapter.DBConnection, tm tx.TransactionManager) *SQLStore {
	partitions := NewSQLPartitionRepository(conn, tm)
	return &SQLStore{
		name:       conn.Name(),
		tm:         tm,
		operations: NewSQLOperationRepository(conn, partitions),
		batches:    NewSQLBatchRepository(conn),
		partitions: partitions,
	}
}

func (s *SQLStore) Name() string                               { return s.name }
func (s *SQLStore) Operations() repository.OperationRepository { return s.operations }
func (s *SQLStore) Batches() repository.BatchRepository        { return s.batches }
func (s *SQLStore) Partitions() repository.PartitionRepository { return s.partitions }
func (s *SQLStore) TxManager() tx.TransactionManager           { return s.tm }

// SQLStoreRegistry resolves Stores lazily, one per configured connection.
type SQLStoreRegistry struct {
	resolver  adapter.DBConnectionResolver
	tmFactory tx.TransactionManagerFactory
	names     []string

	mu     sync.Mutex
	stores map[string]*SQLStore
}

// NewSQLStoreRegistry creates a new SQLStoreRegistry over the connections named by cfg.
func NewSQLStoreRegistry(resolver adapter.DBConnectionResolver, tmFactory tx.TransactionManagerFactory, cfg *config.Config) *SQLStoreRegistry {
	return &SQLStoreRegistry{
		resolver:  resolver,
		tmFactory: tmFactory,
		names:     cfg.DatabaseNames(),
		stores:    make(map[string]*SQLStore),
	}
}

// Store implements repository.StoreRegistry.
func (r *SQLStoreRegistry) Store(name string) (repository.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	conn, err := r.resolver.ResolveDBConnection(context.Background(), name)
	if err != nil {
		return nil, fmt.Errorf("SQLStoreRegistry: failed to resolve connection '%s': %w", name, err)
	}
	s := NewSQLStore(conn, r.tmFactory.NewTransactionManager(conn))
	r.stores[name] = s
	return s, nil
}

// Names implements repository.StoreRegistry.
func (r *SQLStoreRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

var (
	_ repository.Store         = (*SQLStore)(nil)
	_ repository.StoreRegistry = (*SQLStoreRegistry)(nil)
)
