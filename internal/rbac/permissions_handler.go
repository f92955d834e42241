package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/ledgerdesk/internal/platform/httpx"
)

// UpdateFunc applies a permission change on behalf of a request.
type UpdateFunc func(r *http.Request, id int64, value bool) (Record, error)

// PermissionsHandler exposes permission checks and administration over JSON.
type PermissionsHandler struct {
	logger    *slog.Logger
	resolve   func(r *http.Request) *Resolver
	update    UpdateFunc
	rbac      Middleware
	validator *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, resolve: rbac.Resolve, rbac: rbac, validator: validator.New()}
}

// WithUpdater replaces the default update path, which calls the resolver directly.
func (h *PermissionsHandler) WithUpdater(fn UpdateFunc) *PermissionsHandler {
	h.update = fn
	return h
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Get("/capabilities/{bundle}", h.capabilities)
	r.Post("/refresh", h.refresh)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermPermissionView, PermPermissionEdit))
		r.Get("/", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermPermissionEdit))
		r.Patch("/{id}", h.updatePermission)
	})
}

type checkResponse struct {
	Permissions map[string]bool `json:"permissions"`
	Degraded    bool            `json:"degraded"`
}

type updateRequest struct {
	Value *bool `json:"value" validate:"required"`
}

func (h *PermissionsHandler) resolver(w http.ResponseWriter, r *http.Request) *Resolver {
	res := h.resolve(r)
	if res == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return nil
	}
	if err := res.Ensure(r.Context()); err != nil {
		if errors.Is(err, httpx.ErrUnauthorized) {
			httpx.RespondError(w, err)
			return nil
		}
		h.logger.Warn("permissions degraded", slog.Any("error", err))
	}
	return res
}

func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	res := h.resolver(w, r)
	if res == nil {
		return
	}
	names := r.URL.Query()["name"]
	if len(names) == 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("name is required")))
		return
	}
	has := res.checker()
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = has(name)
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Permissions: out, Degraded: len(res.Records()) == 0})
}

func (h *PermissionsHandler) capabilities(w http.ResponseWriter, r *http.Request) {
	res := h.resolver(w, r)
	if res == nil {
		return
	}
	bundle, err := res.Capabilities(chi.URLParam(r, "bundle"))
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrNotFound, err))
		return
	}
	httpx.JSON(w, http.StatusOK, bundle)
}

func (h *PermissionsHandler) refresh(w http.ResponseWriter, r *http.Request) {
	res := h.resolve(r)
	if res == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := res.Refresh(r.Context()); err != nil {
		if errors.Is(err, httpx.ErrUnauthorized) {
			httpx.RespondError(w, err)
			return
		}
		h.logger.Warn("permissions refresh", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"count": len(res.Records()), "degraded": res.Err() != nil})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	res := h.resolver(w, r)
	if res == nil {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": res.Records()})
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	res := h.resolver(w, r)
	if res == nil {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("invalid permission id")))
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	var updated Record
	if h.update != nil {
		updated, err = h.update(r, id, *req.Value)
	} else {
		updated, err = res.UpdatePermission(r.Context(), id, *req.Value)
	}
	if err != nil {
		h.logger.Error("update permission", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}
