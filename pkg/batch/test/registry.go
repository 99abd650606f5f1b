package test

import (
	"fmt"

	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tigerroll/backfill/pkg/batch/infrastructure/repository/sql"
)

// StaticStoreRegistry serves a fixed set of Stores.
type StaticStoreRegistry struct {
	names  []string
	stores map[string]*sqlrepo.SQLStore
}

// NewStaticStoreRegistry registers stores under their connection names, in order.
func NewStaticStoreRegistry(stores ...*sqlrepo.SQLStore) *StaticStoreRegistry {
	r := &StaticStoreRegistry{stores: make(map[string]*sqlrepo.SQLStore, len(stores))}
	for _, s := range stores {
		r.names = append(r.names, s.Name())
		r.stores[s.Name()] = s
	}
	return r
}

// Store implements repository.StoreRegistry.
func (r *StaticStoreRegistry) Store(name string) (repository.Store, error) {
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("no store for connection '%s'", name)
	}
	return s, nil
}

// Names implements repository.StoreRegistry.
func (r *StaticStoreRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

var _ repository.StoreRegistry = (*StaticStoreRegistry)(nil)
