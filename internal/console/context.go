// Package console assembles the per-context services of the back-office console:
// one session store, one permission resolver and one page-state cache, bound to a
// storage namespace and to the remote API.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/odyssey-erp/ledgerdesk/internal/pagestate"
	"github.com/odyssey-erp/ledgerdesk/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
	"github.com/odyssey-erp/ledgerdesk/internal/shared"
	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

// API is the remote back-office API.
type API interface {
	Login(ctx context.Context, creds remote.Credentials) (remote.LoginResult, error)
	FetchPermissions(ctx context.Context, token string) ([]rbac.Record, error)
	UpdatePermission(ctx context.Context, token string, id int64, value bool) (rbac.Record, error)
	ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error
}

// Metrics receives console events. *observability.Metrics implements it.
type Metrics interface {
	rbac.Metrics
	SessionExpired()
	ForcedLogout(reason string)
	ContextOpened()
	ContextClosed()
}

// Deps are the collaborators shared by every context.
type Deps struct {
	API     API
	Clock   session.Clock
	Logger  *slog.Logger
	Metrics Metrics
	Audit   shared.AuditRecorder
}

// Login attempts per context: a burst of loginBurst, then one every loginRefill.
const (
	loginBurst  = 5
	loginRefill = 12 * time.Second
)

// Context is the console state of one browser context.
type Context struct {
	id       string
	api      API
	logger   *slog.Logger
	metrics  Metrics
	audit    shared.AuditRecorder
	clock    session.Clock
	session  *session.Store
	perms    *rbac.Resolver
	state    *pagestate.Cache
	activity *session.ActivityMonitor
	logins   *rate.Limiter

	mu       sync.Mutex
	notices  []session.Notice
	redirect string
	lastSeen time.Time
}

func newContext(ctx context.Context, id string, st storage.Store, deps Deps) *Context {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("console_id", id))
	clock := deps.Clock
	if clock == nil {
		clock = session.SystemClock()
	}

	c := &Context{
		id:      id,
		api:     deps.API,
		logger:  logger,
		metrics: deps.Metrics,
		audit:   deps.Audit,
		clock:   clock,
		logins:  rate.NewLimiter(rate.Every(loginRefill), loginBurst),
	}
	c.lastSeen = clock.Now()
	c.session = session.Open(ctx, st,
		session.WithClock(clock),
		session.WithLogger(logger),
		session.WithNotifier(c),
		session.WithNavigator(c),
	)
	c.perms = rbac.NewResolver(permissionClient{c: c}, c.principal, logger, deps.Metrics)
	c.state = pagestate.Open(ctx, st, logger)
	c.activity = session.NewActivityMonitor(c.session)
	c.session.OnLogout(c.perms.Reset)

	// A session restored from storage resumes its countdown.
	c.activity.Attach()
	return c
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Session returns the session store.
func (c *Context) Session() *session.Store { return c.session }

// Permissions returns the permission resolver.
func (c *Context) Permissions() *rbac.Resolver { return c.perms }

// State returns the page-state cache.
func (c *Context) State() *pagestate.Cache { return c.state }

// Activity returns the activity monitor.
func (c *Context) Activity() *session.ActivityMonitor { return c.activity }

// Login authenticates against the API, stores the session, loads permissions and
// starts the inactivity countdown. A failed permission load does not fail the
// login.
func (c *Context) Login(ctx context.Context, creds remote.Credentials) (*session.Principal, error) {
	if !c.logins.AllowN(c.clock.Now(), 1) {
		return nil, ErrTooManyAttempts
	}
	res, err := c.api.Login(ctx, creds)
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, translate(err)
	}
	principal := res.User
	c.session.Login(ctx, &principal, res.Token)
	c.clearPending()
	c.perms.Reset()
	if err := c.perms.Ensure(ctx); err != nil {
		c.logger.Warn("console login permissions", slog.Any("error", err))
	}
	if !c.session.IsAuthenticated() {
		// The API rejected the fresh token while loading permissions.
		return nil, fmt.Errorf("%w: token rejected after login", httpx.ErrUnauthorized)
	}
	if !c.activity.Attach() {
		c.session.ResetInactivityTimer()
	}
	c.record(ctx, shared.AuditLogin, principal.Username, "")
	c.logger.Info("console login", slog.String("username", principal.Username))
	return c.session.Principal(), nil
}

// Logout ends the session. Calling it without a session is harmless.
func (c *Context) Logout(ctx context.Context) {
	actor := c.actor()
	c.session.Logout(ctx)
	if actor != "" {
		c.record(ctx, shared.AuditLogout, actor, "")
	}
}

// ChangePassword changes the principal's password. A 401 here means the old
// password was wrong and does not end the session.
func (c *Context) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	token := c.session.Token()
	if token == "" || !c.session.IsAuthenticated() {
		return shared.ErrNotAuthenticated
	}
	if err := c.api.ChangePassword(ctx, token, oldPassword, newPassword); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			return shared.ErrInvalidCredentials
		}
		return translate(err)
	}
	c.record(ctx, shared.AuditPasswordChange, c.actor(), "")
	return nil
}

// UpdatePermission changes one permission record and records the change.
func (c *Context) UpdatePermission(ctx context.Context, id int64, value bool) (rbac.Record, error) {
	rec, err := c.perms.UpdatePermission(ctx, id, value)
	if err != nil {
		return rbac.Record{}, err
	}
	c.record(ctx, shared.AuditPermissionUpdate, c.actor(), fmt.Sprintf("%d=%t", id, value))
	return rec, nil
}

// Observe feeds one user activity event to the monitor.
func (c *Context) Observe(a session.Activity) (bool, error) {
	c.touch()
	return c.activity.Observe(a)
}

// Notify implements session.Notifier.
func (c *Context) Notify(n session.Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()

	if c.metrics != nil {
		if n.Code == session.NoticeSessionExpired {
			c.metrics.SessionExpired()
		}
		c.metrics.ForcedLogout(n.Code)
	}
	c.record(context.Background(), shared.AuditForcedLogout, "", n.Code)
}

// Navigate implements session.Navigator.
func (c *Context) Navigate(path string) {
	c.mu.Lock()
	c.redirect = path
	c.mu.Unlock()
}

// PopNotices returns and clears the queued notices.
func (c *Context) PopNotices() []session.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	return out
}

// PopRedirect returns and clears the pending redirect target.
func (c *Context) PopRedirect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.redirect
	c.redirect = ""
	return out
}

// LastSeen reports when the context was last used.
func (c *Context) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Context) touch() {
	c.mu.Lock()
	c.lastSeen = c.clock.Now()
	c.mu.Unlock()
}

func (c *Context) clearPending() {
	c.mu.Lock()
	c.notices = nil
	c.redirect = ""
	c.mu.Unlock()
}

// close unmounts the context: the countdown stops, the session stays stored.
func (c *Context) close() {
	c.activity.Detach()
	c.session.ClearInactivityTimer()
}

func (c *Context) principal() (rbac.Principal, bool) {
	p := c.session.Principal()
	if p == nil {
		return nil, false
	}
	return p, true
}

func (c *Context) actor() string {
	if p := c.session.Principal(); p != nil {
		return p.Username
	}
	return ""
}

func (c *Context) record(ctx context.Context, action, actor, detail string) {
	if c.audit == nil {
		return
	}
	entry := shared.AuditLog{ContextID: c.id, Actor: actor, Action: action, Detail: detail, At: c.clock.Now()}
	if err := c.audit.Record(ctx, entry); err != nil {
		c.logger.Warn("console audit", slog.String("action", action), slog.Any("error", err))
	}
}

// unauthorized ends the session when the API rejects the token.
func (c *Context) unauthorized(ctx context.Context, token string, err error) error {
	if errors.Is(err, remote.ErrUnauthorized) {
		if !c.session.ForceLogoutToken(ctx, token, session.NoticeSessionInvalid) {
			c.logger.Info("console ignore 401 for superseded token")
		}
	}
	return translate(err)
}

// permissionClient binds the resolver to the API with the current token.
type permissionClient struct {
	c *Context
}

func (p permissionClient) FetchPermissions(ctx context.Context) ([]rbac.Record, error) {
	token := p.c.session.Token()
	records, err := p.c.api.FetchPermissions(ctx, token)
	if err != nil {
		return nil, p.c.unauthorized(ctx, token, err)
	}
	return records, nil
}

func (p permissionClient) UpdatePermission(ctx context.Context, id int64, value bool) (rbac.Record, error) {
	token := p.c.session.Token()
	rec, err := p.c.api.UpdatePermission(ctx, token, id, value)
	if err != nil {
		return rbac.Record{}, p.c.unauthorized(ctx, token, err)
	}
	return rec, nil
}

// translate maps API errors onto the httpx taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, remote.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", httpx.ErrUnauthorized, err)
	}
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", httpx.ErrForbidden, err)
		}
	}
	return fmt.Errorf("%w: %w", httpx.ErrUpstream, err)
}
