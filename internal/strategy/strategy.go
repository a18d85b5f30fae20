// Package strategy defines the Strategy interface consumed by the backtest
// engine and provides a Registry for constructing strategies by name.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"algotrader/internal/domain"
	"algotrader/internal/market"
)

// Strategy is the interface that all trading strategies must implement.
// Implementations must not have side effects beyond returning signals; the
// engine performs all portfolio mutation.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Setup configures the strategy before the first timestep.
	Setup(params Params) error

	// GenerateSignals inspects the snapshot and returns at most one signal
	// per symbol. Symbols absent from the map are treated as HOLD.
	GenerateSignals(ctx context.Context, snap *market.Snapshot) (map[string]domain.Signal, error)
}

// Factory returns a fresh, independently owned Strategy instance.
type Factory func() Strategy

// Registry holds named strategy factories for lookup and enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the Name() of the strategy it builds.
func (r *Registry) Register(f Factory) {
	r.factories[f().Name()] = f
}

// New builds a new instance of the named strategy. The second return value
// indicates whether the strategy was found.
func (r *Registry) New(name string) (Strategy, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Factory returns the factory registered under name.
func (r *Registry) Factory(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
