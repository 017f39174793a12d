// factory.go implements the namespace backend registry, mapping backend names
// (postgres, mongo, memory) to constructor functions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/orgstore/orgstore/internal/config"
)

// Deps carries process-owned handles a backend may share instead of opening
// its own connection.
type Deps struct {
	// DB is the master database handle.
	DB *sql.DB
}

// FactoryFunc creates a namespace store from configuration.
type FactoryFunc func(ctx context.Context, cfg *config.Config, deps Deps) (NamespaceStore, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers a namespace backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewNamespaceStore creates the namespace store selected by namespaces.backend.
func NewNamespaceStore(ctx context.Context, cfg *config.Config, deps Deps) (NamespaceStore, error) {
	factoriesMu.RLock()
	factory, ok := factories[cfg.Namespaces.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported namespace backend: %q (registered: %s)",
			cfg.Namespaces.Backend, strings.Join(Backends(), ", "))
	}

	return factory(ctx, cfg, deps)
}
