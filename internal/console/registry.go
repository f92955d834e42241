package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/ledgerdesk/internal/session"
	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

// Registry owns the open console contexts, keyed by context id.
type Registry struct {
	factory storage.Factory
	deps    Deps

	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool
}

// NewRegistry constructs a Registry.
func NewRegistry(factory storage.Factory, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{factory: factory, deps: deps, contexts: make(map[string]*Context)}
}

// Open returns the context for id, creating and seeding it from storage on
// first use. Seeding runs outside the registry lock; when two callers race on
// a new id the first insert wins and the loser is discarded.
func (r *Registry) Open(ctx context.Context, id string) (*Context, error) {
	if c, ok, err := r.existing(id); ok || err != nil {
		return c, err
	}

	fresh := newContext(ctx, id, r.factory(id), r.deps)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		fresh.close()
		return nil, ErrClosed
	}
	if c, ok := r.contexts[id]; ok {
		r.mu.Unlock()
		fresh.close()
		c.touch()
		return c, nil
	}
	r.contexts[id] = fresh
	r.mu.Unlock()

	if r.deps.Metrics != nil {
		r.deps.Metrics.ContextOpened()
	}
	return fresh, nil
}

func (r *Registry) existing(id string) (*Context, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	c, ok := r.contexts[id]
	if ok {
		c.touch()
	}
	return c, ok, nil
}

// Lookup returns an open context without creating one.
func (r *Registry) Lookup(id string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	return c, ok
}

// Close unmounts the context for id. Its stored session survives and is restored
// by the next Open.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	c, ok := r.contexts[id]
	delete(r.contexts, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.close()
	if r.deps.Metrics != nil {
		r.deps.Metrics.ContextClosed()
	}
	return true
}

// Sweep closes contexts unused for longer than maxIdle and returns how many were
// closed.
func (r *Registry) Sweep(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	var stale []string
	for id, c := range r.contexts {
		if now.Sub(c.LastSeen()) > maxIdle {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	closed := 0
	for _, id := range stale {
		if r.Close(id) {
			closed++
		}
	}
	if closed > 0 {
		r.deps.Logger.Info("console sweep", slog.Int("closed", closed))
	}
	return closed
}

// Len returns the number of open contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Shutdown closes every context and refuses further opens.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	clock := r.deps.Clock
	if clock == nil {
		clock = session.SystemClock()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(clock.Now(), maxIdle)
		}
	}
}
