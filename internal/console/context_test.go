package console

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerdesk/internal/platform/httpx"
	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/remote/memapi"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
	"github.com/odyssey-erp/ledgerdesk/internal/shared"
	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

type fakeMetrics struct {
	mu       sync.Mutex
	expired  int
	forced   map[string]int
	failOpen int
	fetchErr int
	open     int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{forced: make(map[string]int)}
}

func (m *fakeMetrics) SessionExpired() {
	m.mu.Lock()
	m.expired++
	m.mu.Unlock()
}

func (m *fakeMetrics) ForcedLogout(reason string) {
	m.mu.Lock()
	m.forced[reason]++
	m.mu.Unlock()
}

func (m *fakeMetrics) PermissionFailOpen() {
	m.mu.Lock()
	m.failOpen++
	m.mu.Unlock()
}

func (m *fakeMetrics) PermissionFetchFailed() {
	m.mu.Lock()
	m.fetchErr++
	m.mu.Unlock()
}

func (m *fakeMetrics) ContextOpened() {
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
}

func (m *fakeMetrics) ContextClosed() {
	m.mu.Lock()
	m.open--
	m.mu.Unlock()
}

type auditTrail struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *auditTrail) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditTrail) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	api      *memapi.Server
	clock    *session.ManualClock
	metrics  *fakeMetrics
	audit    *auditTrail
	factory  *storage.MemoryFactory
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := memapi.NewServer()
	require.NoError(t, api.AddUser(session.Principal{ID: 1, Username: "root", Roles: []string{rbac.SuperAdminCode}}, "root-pass"))
	require.NoError(t, api.AddUser(session.Principal{ID: 2, Username: "clerk", Roles: []string{"clerk"}}, "clerk-pass"))
	api.AddRecords(
		rbac.Record{RoleName: "clerk", PageName: "customer", PermissionName: rbac.PermCustomerCreate, Value: true},
		rbac.Record{RoleName: "clerk", PageName: "customer", PermissionName: rbac.PermCustomerDelete, Value: false},
		rbac.Record{Role: &rbac.RoleRef{Code: "auditor", Name: "Auditor"}, PageName: "inspection", PermissionName: rbac.PermInspectionReview, Value: true},
	)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := &fixture{
		api:     api,
		clock:   session.NewManualClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		metrics: newFakeMetrics(),
		audit:   &auditTrail{},
		factory: storage.NewMemoryFactory(),
	}
	f.registry = NewRegistry(f.factory.Open, Deps{
		API:     remote.NewClient(srv.URL, 5*time.Second),
		Clock:   f.clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: f.metrics,
		Audit:   f.audit,
	})
	t.Cleanup(f.registry.Shutdown)
	return f
}

func (f *fixture) open(t *testing.T, id string) *Context {
	t.Helper()
	c, err := f.registry.Open(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestLoginLoadsPermissionsAndArmsTimer(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")

	p, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	assert.Equal(t, "clerk", p.Username)

	assert.True(t, c.Session().IsAuthenticated())
	assert.True(t, c.Permissions().Loaded())
	assert.True(t, c.Permissions().HasPermission(rbac.PermCustomerCreate))
	assert.False(t, c.Permissions().HasPermission(rbac.PermCustomerDelete))
	assert.False(t, c.Permissions().HasPermission(rbac.PermInspectionReview))
	assert.Equal(t, session.TimerArmed, c.Session().TimerState())
	assert.True(t, c.Activity().Attached())
	assert.Equal(t, []string{shared.AuditLogin}, f.audit.actions())
}

func TestSuperAdminBypassesRecords(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "root", Password: "root-pass"})
	require.NoError(t, err)
	assert.True(t, c.Permissions().HasPermission(rbac.PermCustomerDelete))
	assert.True(t, c.Permissions().HasPermission("anything_at_all"))
}

func TestWrongPassword(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "nope"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.False(t, c.Session().IsAuthenticated())
	assert.Equal(t, session.TimerIdle, c.Session().TimerState())
}

func TestLoginAttemptsAreThrottled(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	ctx := context.Background()

	for i := 0; i < loginBurst; i++ {
		_, err := c.Login(ctx, remote.Credentials{Username: "clerk", Password: "nope"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err := c.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.False(t, c.Session().IsAuthenticated())

	other := f.open(t, "tab-2")
	_, err = other.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	f.clock.Advance(loginRefill)
	_, err = c.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	assert.True(t, c.Session().IsAuthenticated())
}

func TestIdleSessionExpires(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	f.clock.Advance(29 * time.Minute)
	assert.True(t, c.Session().IsAuthenticated())

	f.clock.Advance(time.Minute)
	assert.False(t, c.Session().IsAuthenticated())
	assert.False(t, c.Activity().Attached())
	assert.False(t, c.Permissions().Loaded())
	assert.Equal(t, []session.Notice{{Kind: "warning", Code: session.NoticeSessionExpired}}, c.PopNotices())
	assert.Equal(t, session.LoginPath, c.PopRedirect())
	assert.Empty(t, c.PopNotices())
	assert.Empty(t, c.PopRedirect())
	assert.Equal(t, 1, f.metrics.expired)
	assert.Equal(t, 1, f.metrics.forced[session.NoticeSessionExpired])
	assert.Contains(t, f.audit.actions(), shared.AuditForcedLogout)

	_, err = f.factory.Open("tab-1").Get(context.Background(), storage.KeyToken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActivityPostponesExpiry(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	ok, err := c.Observe(session.ActivityKeyDown)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.Advance(20 * time.Minute)
	assert.True(t, c.Session().IsAuthenticated())
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(10 * time.Minute)
	assert.False(t, c.Session().IsAuthenticated())
}

func TestRejectedTokenForcesLogout(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	f.api.Revoke(c.Session().Token())
	err = c.Permissions().Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)

	assert.False(t, c.Session().IsAuthenticated())
	assert.Equal(t, session.TimerIdle, c.Session().TimerState())
	assert.Equal(t, []session.Notice{{Kind: "warning", Code: session.NoticeSessionInvalid}}, c.PopNotices())
	assert.Equal(t, session.LoginPath, c.PopRedirect())
	assert.Equal(t, 1, f.metrics.forced[session.NoticeSessionInvalid])
}

func TestRejectionOfSupersededTokenKeepsNewSession(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	ctx := context.Background()
	_, err := c.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	old := c.Session().Token()
	c.Logout(ctx)

	_, err = c.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	require.NotEqual(t, old, c.Session().Token())

	err = c.unauthorized(ctx, old, remote.ErrUnauthorized)
	assert.ErrorIs(t, err, httpx.ErrUnauthorized)
	assert.True(t, c.Session().IsAuthenticated())
	assert.Empty(t, c.PopNotices())
	assert.Zero(t, f.metrics.forced[session.NoticeSessionInvalid])
}

func TestWrongOldPasswordKeepsSession(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	err = c.ChangePassword(context.Background(), "wrong", "new-password-1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.True(t, c.Session().IsAuthenticated())

	require.NoError(t, c.ChangePassword(context.Background(), "clerk-pass", "new-password-1"))
	assert.Contains(t, f.audit.actions(), shared.AuditPasswordChange)
}

func TestChangePasswordRequiresSession(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	assert.ErrorIs(t, c.ChangePassword(context.Background(), "a", "b"), shared.ErrNotAuthenticated)
}

func TestPermissionFetchFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.api.FailPermissionFetches(true)
	c := f.open(t, "tab-1")

	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	assert.True(t, c.Permissions().Loaded())
	assert.ErrorIs(t, c.Permissions().Err(), httpx.ErrUpstream)
	assert.True(t, c.Permissions().HasPermission(rbac.PermCustomerDelete))
	assert.Equal(t, 1, f.metrics.fetchErr)
	assert.True(t, c.Session().IsAuthenticated())

	f.api.FailPermissionFetches(false)
	require.NoError(t, c.Permissions().Refresh(context.Background()))
	assert.False(t, c.Permissions().HasPermission(rbac.PermCustomerDelete))
}

func TestUpdatePermissionPatchesAndAudits(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	_, err := c.Login(context.Background(), remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)

	rec, err := c.UpdatePermission(context.Background(), 2, true)
	require.NoError(t, err)
	assert.True(t, rec.Value)
	assert.True(t, c.Permissions().HasPermission(rbac.PermCustomerDelete))
	assert.Contains(t, f.audit.actions(), shared.AuditPermissionUpdate)

	_, err = c.UpdatePermission(context.Background(), 404, true)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestLogoutThenLoginAgain(t *testing.T) {
	f := newFixture(t)
	c := f.open(t, "tab-1")
	ctx := context.Background()

	_, err := c.Login(ctx, remote.Credentials{Username: "clerk", Password: "clerk-pass"})
	require.NoError(t, err)
	c.Logout(ctx)
	assert.False(t, c.Session().IsAuthenticated())
	assert.False(t, c.Permissions().Loaded())
	assert.Zero(t, f.clock.Pending())
	c.Logout(ctx)

	_, err = c.Login(ctx, remote.Credentials{Username: "root", Password: "root-pass"})
	require.NoError(t, err)
	assert.Equal(t, "root", c.Session().Principal().Username)
	assert.Equal(t, 1, f.clock.Pending())
	assert.Equal(t, []string{shared.AuditLogin, shared.AuditLogout, shared.AuditLogin}, f.audit.actions())
}
