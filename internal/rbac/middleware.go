package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/ledgerdesk/internal/platform/httpx"
)

// Middleware wires permission guards for HTTP handlers.
type Middleware struct {
	Resolve func(r *http.Request) *Resolver
	Logger  *slog.Logger
}

// RequireAny ensures the current principal has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(res *Resolver) bool { return res.HasAny(normalized...) })
}

// RequireAll ensures the current principal has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.guard(normalized, func(res *Resolver) bool { return res.HasAll(normalized...) })
}

func (m Middleware) guard(required []string, allowed func(*Resolver) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			var res *Resolver
			if m.Resolve != nil {
				res = m.Resolve(r)
			}
			if res == nil {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			if err := res.Ensure(r.Context()); err != nil {
				if errors.Is(err, httpx.ErrUnauthorized) {
					httpx.RespondError(w, err)
					return
				}
				if m.Logger != nil {
					m.Logger.Warn("rbac guard degraded", slog.Any("error", err))
				}
			}
			if allowed(res) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// HasAny reports whether at least one permission is held.
func (r *Resolver) HasAny(perms ...string) bool {
	has := r.checker()
	for _, p := range perms {
		if has(p) {
			return true
		}
	}
	return len(perms) == 0
}

// HasAll reports whether every permission is held.
func (r *Resolver) HasAll(perms ...string) bool {
	has := r.checker()
	for _, p := range perms {
		if !has(p) {
			return false
		}
	}
	return true
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
