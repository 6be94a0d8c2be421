package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/dectalkbot/internal/store"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStorage] when no
// factory has been registered under the requested backend.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// StorageFactory opens a persister for cfg. The returned close function
// releases the backend's resources and may be nil.
type StorageFactory func(ctx context.Context, cfg StorageConfig) (store.Persister, func(), error)

// Registry maps storage backend names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	storage map[StorageBackend]StorageFactory
}

// NewRegistry returns a [Registry] with the file backend registered.
func NewRegistry() *Registry {
	r := &Registry{storage: make(map[StorageBackend]StorageFactory)}
	r.RegisterStorage(StorageFile, openFileStorage)
	return r
}

// RegisterStorage registers a storage factory under backend.
// Subsequent calls with the same backend overwrite the previous registration.
func (r *Registry) RegisterStorage(backend StorageBackend, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[backend] = factory
}

// CreateStorage opens the persister selected by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateStorage(ctx context.Context, cfg StorageConfig) (store.Persister, func(), error) {
	r.mu.RLock()
	factory, ok := r.storage[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	p, closeFn, err := factory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config: open %s storage: %w", cfg.Backend, err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return p, closeFn, nil
}

func openFileStorage(_ context.Context, cfg StorageConfig) (store.Persister, func(), error) {
	p, err := store.NewFilePersister(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return p, nil, nil
}
