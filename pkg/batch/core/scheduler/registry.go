package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"
)

// StrategyGroup is the Fx value group collecting NamedStrategy values.
const StrategyGroup = "batching_strategies"

// NamedStrategy registers a BatchingStrategy under the name Operations refer to.
type NamedStrategy struct {
	Name     string
	Strategy BatchingStrategy
}

// StrategyRegistry resolves batching_strategy_name to a BatchingStrategy.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]BatchingStrategy
}

// StrategyRegistryParams are the Fx dependencies of NewStrategyRegistryFromGroup.
type StrategyRegistryParams struct {
	fx.In
	Strategies []NamedStrategy `group:"batching_strategies"`
}

// NewStrategyRegistry creates an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: make(map[string]BatchingStrategy)}
}

// NewStrategyRegistryFromGroup builds a registry from the Fx value group.
func NewStrategyRegistryFromGroup(p StrategyRegistryParams) (*StrategyRegistry, error) {
	r := NewStrategyRegistry()
	for _, ns := range p.Strategies {
		if err := r.Register(ns.Name, ns.Strategy); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s under name. Names are unique.
func (r *StrategyRegistry) Register(name string, s BatchingStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" || s == nil {
		return fmt.Errorf("batching strategy registration requires a name and a strategy")
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("batching strategy '%s' is already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Lookup returns the strategy registered under name.
func (r *StrategyRegistry) Lookup(name string) (BatchingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("batching strategy '%s' is not registered", name)
	}
	return s, nil
}

// Has reports whether name is registered.
func (r *StrategyRegistry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names returns the registered names in order.
func (r *StrategyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
