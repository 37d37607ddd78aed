// Package strategy hosts the pluggable rebalance strategies and the registry
// that builds them from configuration.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"portfolio_trader/internal/core"
	apperrors "portfolio_trader/pkg/errors"
)

// Factory builds a strategy from its raw config parameters.
type Factory func(params map[string]interface{}, market core.IMarketData, logger core.ILogger) (core.IStrategy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a strategy available under name. It panics on duplicates so
// collisions surface at startup.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = factory
}

// New builds the named strategy.
func New(name string, params map[string]interface{}, market core.IMarketData, logger core.ILogger) (core.IStrategy, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", apperrors.ErrUnknownStrategy, name, Names())
	}
	return factory(params, market, logger)
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
