package partition

import (
	"sync"

	"go.uber.org/fx"

	config "github.com/tigerroll/backfill/pkg/batch/core/config"
	"github.com/tigerroll/backfill/pkg/batch/core/domain/repository"
	"github.com/tigerroll/backfill/pkg/batch/core/metrics"
	"github.com/tigerroll/backfill/pkg/batch/support/util/clock"
)

// Provider hands out one Manager per connection.
type Provider struct {
	stores repository.StoreRegistry
	opts   []Option

	mu       sync.Mutex
	managers map[string]*Manager
}

// ProviderParams are the Fx dependencies of NewProvider.
type ProviderParams struct {
	fx.In
	Stores   repository.StoreRegistry
	Cfg      *config.Config
	Clock    clock.Clock
	Recorder metrics.MetricRecorder
	Archiver Archiver `optional:"true"`
}

// NewProvider creates a Provider configured from backfill.partition.
func NewProvider(p ProviderParams) *Provider {
	opts := []Option{
		WithWindow(p.Cfg.Backfill.Partition.Window),
		WithClock(p.Clock),
		WithRecorder(p.Recorder),
	}
	if p.Archiver != nil {
		opts = append(opts, WithArchiver(p.Archiver))
	}
	return &Provider{stores: p.Stores, opts: opts, managers: make(map[string]*Manager)}
}

// Manager returns the Manager of connection name.
func (p *Provider) Manager(name string) (*Manager, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.managers[name]; ok {
		return m, nil
	}
	store, err := p.stores.Store(name)
	if err != nil {
		return nil, err
	}
	m := NewManager(store, p.opts...)
	p.managers[name] = m
	return m, nil
}

// Names returns the managed connection names.
func (p *Provider) Names() []string {
	return p.stores.Names()
}

// Module provides the partition Provider.
var Module = fx.Options(
	fx.Provide(NewProvider),
)
