package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Super-administrator markers. Either one in a principal's roles bypasses every check.
const (
	SuperAdminCode       = "super_admin"
	SuperAdminLegacyName = "超级管理员"
)

// FetchTimeout bounds one permission fetch. The fetch outlives the request that
// started it because other callers may be waiting on the same flight.
const FetchTimeout = 30 * time.Second

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrStaleFetch is returned when Reset ran while a fetch was in flight.
	ErrStaleFetch = errors.New("rbac: fetch superseded by reset")
)

// Resolver answers permission queries for the principal of one console context.
// Records are fetched in bulk once and kept until Reset.
type Resolver struct {
	client    Client
	principal PrincipalSource
	logger    *slog.Logger
	metrics   Metrics

	mu      sync.RWMutex
	records []Record
	loaded  bool
	err     error
	gen     uint64

	fetches singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(client Client, principal PrincipalSource, logger *slog.Logger, metrics Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, principal: principal, logger: logger, metrics: metrics}
}

// Ensure fetches the permission list on first use once a principal exists.
// A failed fetch is remembered and not retried; call Refresh to try again.
func (r *Resolver) Ensure(ctx context.Context) error {
	if _, ok := r.currentPrincipal(); !ok {
		return nil
	}
	r.mu.RLock()
	loaded, err := r.loaded, r.err
	r.mu.RUnlock()
	if loaded {
		return err
	}
	return r.fetch(ctx)
}

// Refresh re-fetches the permission list.
func (r *Resolver) Refresh(ctx context.Context) error {
	if _, ok := r.currentPrincipal(); !ok {
		return nil
	}
	return r.fetch(ctx)
}

// Reset forgets the loaded list, e.g. when the principal changes.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.records = nil
	r.loaded = false
	r.err = nil
	r.gen++
	r.mu.Unlock()
}

// Err returns the error of the last fetch, if it failed.
func (r *Resolver) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Loaded reports whether a fetch has completed since the last Reset.
func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Records returns a copy of the loaded permission list.
func (r *Resolver) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.records)
}

// HasPermission reports whether the current principal holds the named permission.
func (r *Resolver) HasPermission(name string) bool {
	return r.checker()(name)
}

// UpdatePermission changes the value of one record remotely and patches the local copy.
// On failure the local copy is left untouched and the error is returned.
func (r *Resolver) UpdatePermission(ctx context.Context, id int64, value bool) (Record, error) {
	updated, err := r.client.UpdatePermission(ctx, id, value)
	if err != nil {
		return Record{}, fmt.Errorf("rbac: update permission %d: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.records, func(rec Record) bool { return rec.ID == id })
	if idx < 0 {
		return updated, nil
	}
	patched := slices.Clone(r.records)
	if updated.ID == id {
		patched[idx] = updated
	} else {
		patched[idx].Value = value
	}
	r.records = patched
	return patched[idx], nil
}

func (r *Resolver) fetch(ctx context.Context) error {
	r.mu.RLock()
	gen := r.gen
	r.mu.RUnlock()

	key := "permissions-" + strconv.FormatUint(gen, 10)
	_, err, _ := r.fetches.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		records, err := r.client.FetchPermissions(fetchCtx)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen != gen {
			return nil, ErrStaleFetch
		}
		r.loaded = true
		if err != nil {
			r.err = err
			return nil, err
		}
		r.records = records
		r.err = nil
		return nil, nil
	})
	if errors.Is(err, ErrStaleFetch) {
		r.logger.Debug("rbac discard stale permission fetch")
		return err
	}
	if err != nil {
		r.logger.Warn("rbac fetch permissions", slog.Any("error", err))
		if r.metrics != nil {
			r.metrics.PermissionFetchFailed()
		}
		return fmt.Errorf("rbac: fetch permissions: %w", err)
	}
	return nil
}

func (r *Resolver) currentPrincipal() (Principal, bool) {
	if r.principal == nil {
		return nil, false
	}
	return r.principal()
}

// checker snapshots the principal and list once and returns the decision function.
func (r *Resolver) checker() func(string) bool {
	principal, ok := r.currentPrincipal()
	r.mu.RLock()
	records := r.records
	r.mu.RUnlock()

	if failOpen(ok, records) {
		if r.metrics != nil {
			r.metrics.PermissionFailOpen()
		}
		return func(string) bool { return true }
	}
	roles := principal.RoleCodes()
	if IsSuperAdmin(roles) {
		return func(string) bool { return true }
	}
	return func(name string) bool { return granted(records, roles, name) }
}

// failOpen decides the degraded mode: with no principal or no permission data
// every check passes so the console stays usable.
func failOpen(hasPrincipal bool, records []Record) bool {
	return !hasPrincipal || len(records) == 0
}

// IsSuperAdmin reports whether roles contain a super-administrator marker.
func IsSuperAdmin(roles []string) bool {
	for _, role := range roles {
		if role == SuperAdminCode || role == SuperAdminLegacyName {
			return true
		}
	}
	return false
}

func granted(records []Record, roles []string, name string) bool {
	for _, role := range roles {
		for _, rec := range records {
			if rec.PermissionName == name && rec.HeldBy(role) && rec.Value {
				return true
			}
		}
	}
	return false
}
