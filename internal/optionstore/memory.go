package optionstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
	"github.com/rzpsarthak13/tablekeeper/internal/registry"
)

// MemoryStore is a process-local option store for tests and single-process
// tools.
type MemoryStore struct {
	mu      sync.RWMutex
	options map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{options: make(map[string][]byte)}
}

// Get retrieves a copy of an option.
func (m *MemoryStore) Get(_ context.Context, scope core.Scope, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.options[scopedKey("", scope, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", core.ErrOptionNotFound, scope, key)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(_ context.Context, scope core.Scope, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.options[scopedKey("", scope, key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes an option.
func (m *MemoryStore) Delete(_ context.Context, scope core.Scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.options, scopedKey("", scope, key))
	return nil
}

// Len returns the number of stored options.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.options)
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

type memoryFactory struct{}

func (f *memoryFactory) Type() string { return "memory" }

func (f *memoryFactory) Validate(Config) error { return nil }

func (f *memoryFactory) Create(Config) (core.OptionStore, error) {
	return NewMemoryStore(), nil
}

type memoryConfigValidator struct{}

func (v *memoryConfigValidator) Type() string { return "memory" }

func (v *memoryConfigValidator) Validate(*registry.InternalConfig) error { return nil }

func init() {
	RegisterFactory(&memoryFactory{})
	registry.RegisterValidator(&memoryConfigValidator{})
}
