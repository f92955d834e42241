// Package storage provides the durable key/value store behind a console context.
package storage

import (
	"context"
	"errors"
	"sync"
)

// Fixed keys shared by every console context.
const (
	KeyToken     = "token"
	KeyPrincipal = "user"
	KeyPageState = "page-state"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: not found")

// Store persists raw string values under fixed keys for one console context.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Factory opens the Store owned by a console context.
type Factory func(contextID string) Store

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores value under key.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// MemoryFactory hands out one MemoryStore per context id so reopening a context
// sees what it persisted before.
type MemoryFactory struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryFactory constructs a MemoryFactory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{stores: make(map[string]*MemoryStore)}
}

// Open returns the store for contextID, creating it on first use.
func (f *MemoryFactory) Open(contextID string) Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, ok := f.stores[contextID]
	if !ok {
		store = NewMemoryStore()
		f.stores[contextID] = store
	}
	return store
}

var _ Store = (*MemoryStore)(nil)
