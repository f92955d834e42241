package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/ledgerdesk/internal/console"
	"github.com/odyssey-erp/ledgerdesk/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
	"github.com/odyssey-erp/ledgerdesk/internal/shared"
)

// ContextHeader selects a console context without a cookie.
const ContextHeader = "X-Console-Context"

// Config tunes the handler.
type Config struct {
	CookieName   string
	SecureCookie bool
	CSRFSecret   string
}

// Handler wires the console HTTP surface.
type Handler struct {
	logger    *slog.Logger
	registry  *console.Registry
	localizer *shared.Localizer
	csrf      *shared.CSRFManager
	validator *validator.Validate
	cfg       Config
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, registry *console.Registry, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "ledgerdesk_ctx"
	}
	return &Handler{
		logger:    logger,
		registry:  registry,
		localizer: shared.NewLocalizer(),
		csrf:      shared.NewCSRFManager(cfg.CSRFSecret),
		validator: validator.New(),
		cfg:       cfg,
	}
}

// MountRoutes registers console routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.LoadContext)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/logout", h.handleLogout)
		r.Get("/session", h.showSession)
		r.Post("/session/activity", h.handleActivity)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuthenticated)
			r.Post("/auth/password", h.handleChangePassword)

			rbacMW := rbac.Middleware{Resolve: resolverFromRequest, Logger: h.logger}
			perms := rbac.NewPermissionsHandler(h.logger, rbacMW).WithUpdater(updatePermission)
			r.Route("/permissions", perms.MountRoutes)

			r.Route("/state", func(r chi.Router) {
				r.Get("/", h.listState)
				r.Delete("/", h.clearAllState)
				r.Get("/{key}", h.getState)
				r.Put("/{key}", h.putState)
				r.Delete("/{key}", h.clearState)
			})
		})
	})
}

type consoleContextKey struct{}

// FromRequest returns the console context bound by LoadContext.
func FromRequest(r *http.Request) *console.Context {
	c, _ := r.Context().Value(consoleContextKey{}).(*console.Context)
	return c
}

func resolverFromRequest(r *http.Request) *rbac.Resolver {
	if c := FromRequest(r); c != nil {
		return c.Permissions()
	}
	return nil
}

func updatePermission(r *http.Request, id int64, value bool) (rbac.Record, error) {
	c := FromRequest(r)
	if c == nil {
		return rbac.Record{}, httpx.ErrUnauthorized
	}
	return c.UpdatePermission(r.Context(), id, value)
}

// LoadContext binds the console context named by the header or cookie, creating
// one when neither is present. Cookie-bound contexts need a CSRF token on
// state-changing requests.
func (h *Handler) LoadContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, fromCookie := h.contextID(r)
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     h.cfg.CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   h.cfg.SecureCookie,
				SameSite: http.SameSiteStrictMode,
			})
		}
		if fromCookie && !safeMethod(r.Method) {
			if err := h.csrf.Verify(id, r.Header.Get(shared.CSRFHeader)); err != nil {
				httpx.RespondError(w, errors.Join(httpx.ErrForbidden, err))
				return
			}
		}

		c, err := h.registry.Open(r.Context(), id)
		if err != nil {
			h.logger.Error("open console context", slog.Any("error", err))
			httpx.RespondError(w, errors.Join(httpx.ErrUnavailable, err))
			return
		}
		ctx := context.WithValue(r.Context(), consoleContextKey{}, c)
		ctx = shared.ContextWithConsoleID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuthenticated rejects requests whose context has no session.
func (h *Handler) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := FromRequest(r)
		if c == nil || !c.Session().IsAuthenticated() {
			httpx.RespondError(w, errors.Join(httpx.ErrUnauthorized, shared.ErrNotAuthenticated))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) contextID(r *http.Request) (string, bool) {
	if id := r.Header.Get(ContextHeader); validID(id) {
		return id, false
	}
	if cookie, err := r.Cookie(h.cfg.CookieName); err == nil && validID(cookie.Value) {
		return cookie.Value, true
	}
	return "", false
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

type sessionResponse struct {
	ContextID     string                `json:"context_id"`
	Authenticated bool                  `json:"authenticated"`
	Principal     *session.Principal    `json:"principal,omitempty"`
	Timer         string                `json:"timer"`
	CSRFToken     string                `json:"csrf_token"`
	Notices       []shared.FlashMessage `json:"notices"`
	Redirect      string                `json:"redirect,omitempty"`
}

func (h *Handler) sessionView(r *http.Request, c *console.Context) sessionResponse {
	snap := c.Session().Snapshot()
	notices := make([]shared.FlashMessage, 0)
	for _, n := range c.PopNotices() {
		notices = append(notices, h.localizer.Localize(r.Header.Get("Accept-Language"), n))
	}
	return sessionResponse{
		ContextID:     c.ID(),
		Authenticated: snap.Authenticated,
		Principal:     snap.Principal,
		Timer:         snap.Timer.String(),
		CSRFToken:     h.csrf.Token(c.ID()),
		Notices:       notices,
		Redirect:      c.PopRedirect(),
	}
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.sessionView(r, FromRequest(r)))
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	c := FromRequest(r)
	if _, err := c.Login(r.Context(), remote.Credentials{Username: req.Username, Password: req.Password}); err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidCredentials):
			httpx.RespondError(w, errors.Join(httpx.ErrUnauthorized, err))
			return
		case errors.Is(err, console.ErrTooManyAttempts):
			h.logger.Warn("console login throttled", slog.String("username", req.Username))
			httpx.RespondError(w, errors.Join(httpx.ErrTooMany, err))
			return
		}
		h.logger.Error("console login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionView(r, c))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	FromRequest(r).Logout(r.Context())
	httpx.NoContent(w)
}

type passwordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128,nefield=OldPassword"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	err := FromRequest(r).ChangePassword(r.Context(), req.OldPassword, req.NewPassword)
	switch {
	case err == nil:
		httpx.NoContent(w)
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
	case errors.Is(err, shared.ErrNotAuthenticated):
		httpx.RespondError(w, errors.Join(httpx.ErrUnauthorized, err))
	default:
		h.logger.Error("console change password", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

type activityRequest struct {
	Event string `json:"event" validate:"required"`
}

type activityResponse struct {
	Reset bool   `json:"reset"`
	Timer string `json:"timer"`
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	c := FromRequest(r)
	reset, err := c.Observe(session.Activity(req.Event))
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	httpx.JSON(w, http.StatusOK, activityResponse{Reset: reset, Timer: c.Session().TimerState().String()})
}

func (h *Handler) listState(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"keys": FromRequest(r).State().Keys()})
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	raw, ok := FromRequest(r).State().GetState(chi.URLParam(r, "key"))
	if !ok {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) putState(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := httpx.DecodeJSON(r, &value); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := FromRequest(r).State().SetState(r.Context(), chi.URLParam(r, "key"), value); err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrValidation, err))
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) clearState(w http.ResponseWriter, r *http.Request) {
	FromRequest(r).State().ClearState(r.Context(), chi.URLParam(r, "key"))
	httpx.NoContent(w)
}

func (h *Handler) clearAllState(w http.ResponseWriter, r *http.Request) {
	FromRequest(r).State().ClearAll(r.Context())
	httpx.NoContent(w)
}
