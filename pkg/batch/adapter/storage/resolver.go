package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/backfill/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/backfill/pkg/batch/core/config"
)

// ProviderResolver picks the provider matching the configured type of a connection.
type ProviderResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// ResolverParams are the Fx dependencies of NewProviderResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewProviderResolver creates a ProviderResolver over the registered providers.
func NewProviderResolver(p ResolverParams) StorageConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, sp := range p.Providers {
		providers[sp.Type()] = sp
	}
	return &ProviderResolver{providers: providers, cfg: p.Cfg}
}

func (r *ProviderResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := storageConfig.Lookup(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider registered for type '%s' (connection '%s')", sc.Type, name)
	}
	return provider.GetConnection(name)
}

// Module provides the StorageConnectionResolver. Backend modules contribute providers.
var Module = fx.Options(
	fx.Provide(NewProviderResolver),
)
