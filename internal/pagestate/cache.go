// Package pagestate persists per-page UI state (filters, pagination, active tab)
// for a console context. All entries live in one JSON object in durable storage
// and never expire.
package pagestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

// Cache is a string-keyed store of JSON values.
type Cache struct {
	mu      sync.RWMutex
	store   storage.Store
	logger  *slog.Logger
	entries map[string]json.RawMessage
}

// Open loads the cache from store. A corrupt blob yields an empty cache.
func Open(ctx context.Context, store storage.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{store: store, logger: logger, entries: make(map[string]json.RawMessage)}

	raw, err := store.Get(ctx, storage.KeyPageState)
	switch {
	case err == nil:
		var entries map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			logger.Error("pagestate decode", slog.Any("error", err))
		} else if entries != nil {
			c.entries = entries
		}
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("pagestate load", slog.Any("error", err))
	}
	return c
}

// SetState stores value under key. Only an unencodable value is an error.
func (c *Cache) SetState(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("pagestate: encode %q: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	c.persistLocked(ctx)
	return nil
}

// GetState returns the raw value stored under key.
func (c *Cache) GetState(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), value...), true
}

// ClearState removes key.
func (c *Cache) ClearState(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.persistLocked(ctx)
}

// ClearAll empties the cache.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]json.RawMessage)
	c.persistLocked(ctx)
}

// Keys returns the stored keys in no particular order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache) persistLocked(ctx context.Context) {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Error("pagestate encode", slog.Any("error", err))
		return
	}
	if err := c.store.Set(ctx, storage.KeyPageState, string(data)); err != nil {
		c.logger.Warn("pagestate persist", slog.Any("error", err))
	}
}
