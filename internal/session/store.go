// Package session owns who is logged in to a console context: the bearer token,
// the principal, and the inactivity countdown that ends an idle session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

// LoginPath is where the user is sent after a forced logout.
const LoginPath = "/login"

// Notice codes emitted on forced logout.
const (
	NoticeSessionExpired = "session.expired"
	NoticeSessionInvalid = "session.invalid"
)

// Principal is the authenticated user.
type Principal struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	Roles             []string   `json:"roles"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
}

// RoleCodes returns the role identifiers held by the principal.
func (p *Principal) RoleCodes() []string {
	if p == nil {
		return nil
	}
	return p.Roles
}

// identified reports whether p names a real user.
func (p *Principal) identified() bool {
	return p != nil && (p.ID != 0 || p.Username != "")
}

// Clone returns a deep copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	if p.PasswordChangedAt != nil {
		at := *p.PasswordChangedAt
		cp.PasswordChangedAt = &at
	}
	return &cp
}

// Notice is a user-visible message raised by the session.
type Notice struct {
	Kind string `json:"kind"`
	Code string `json:"code"`
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Navigator redirects the user.
type Navigator interface {
	Navigate(path string)
}

// Snapshot is a consistent copy of the store state.
type Snapshot struct {
	Principal     *Principal
	Token         string
	Authenticated bool
	Timer         TimerState
}

// Store is the single source of truth for the session of one console context.
type Store struct {
	mu            sync.Mutex
	storage       storage.Store
	logger        *slog.Logger
	clock         Clock
	notifier      Notifier
	navigator     Navigator
	principal     *Principal
	token         string
	authenticated bool
	timer         *InactivityTimer
	onLogout      []func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock driving the inactivity timer.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithNotifier sets where forced-logout notices go.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithNavigator sets where forced-logout redirects go.
func WithNavigator(n Navigator) Option {
	return func(s *Store) { s.navigator = n }
}

// Open builds a Store seeded from durable storage.
func Open(ctx context.Context, st storage.Store, opts ...Option) *Store {
	s := &Store{storage: st, clock: SystemClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.timer = NewInactivityTimer(s.clock, InactivityTimeout, s.expire)
	s.seed(ctx)
	return s
}

func (s *Store) seed(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.storage.Get(ctx, storage.KeyToken)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("session read token", slog.Any("error", err))
	}

	raw, err := s.storage.Get(ctx, storage.KeyPrincipal)
	switch {
	case err == nil:
		var p *Principal
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Error("session decode stored principal", slog.Any("error", err))
		} else if !p.identified() {
			s.logger.Error("session stored principal has no identity")
		} else {
			s.principal = p
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("session read principal", slog.Any("error", err))
	}

	// A token without a principal is never a session.
	if token != "" && s.principal == nil {
		s.logger.Warn("session discard token without principal")
		s.persistToken(ctx, "")
		token = ""
	}
	s.token = token
	s.recomputeLocked()
}

// SetPrincipal replaces the principal; nil removes it.
func (s *Store) SetPrincipal(ctx context.Context, p *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p.Clone()
	s.persistPrincipal(ctx, s.principal)
	s.recomputeLocked()
}

// SetToken replaces the bearer token; "" removes it.
func (s *Store) SetToken(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.persistToken(ctx, token)
	s.recomputeLocked()
}

// Login sets principal and token together.
func (s *Store) Login(ctx context.Context, p *Principal, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p.Clone()
	s.token = token
	s.persistPrincipal(ctx, s.principal)
	s.persistToken(ctx, token)
	s.recomputeLocked()
}

// Logout clears the session from memory and storage and cancels the countdown.
// Logging out twice is harmless.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	hadSession := s.principal != nil || s.token != ""
	s.principal = nil
	s.token = ""
	s.persistPrincipal(ctx, nil)
	s.persistToken(ctx, "")
	s.recomputeLocked()
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	if !hadSession {
		return
	}
	for _, hook := range hooks {
		hook()
	}
}

// ForceLogout ends the session, tells the user why and sends them to the login page.
func (s *Store) ForceLogout(ctx context.Context, code string) {
	s.Logout(ctx)
	s.logger.Info("session forced logout", slog.String("reason", code))
	if s.notifier != nil {
		s.notifier.Notify(Notice{Kind: "warning", Code: code})
	}
	if s.navigator != nil {
		s.navigator.Navigate(LoginPath)
	}
}

// ForceLogoutToken force-logs-out only if token is still the current token, so a
// rejection of a superseded token cannot end a newer session.
func (s *Store) ForceLogoutToken(ctx context.Context, token, code string) bool {
	s.mu.Lock()
	current := s.token
	s.mu.Unlock()
	if token == "" || token != current {
		return false
	}
	s.ForceLogout(ctx, code)
	return true
}

// OnLogout registers fn to run after every logout that ended a session.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

// IsAuthenticated reports whether both token and principal are present.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Principal returns a copy of the current principal, or nil.
func (s *Store) Principal() *Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal.Clone()
}

// Token returns the bearer token, or "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Snapshot returns the current state in one read.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Principal:     s.principal.Clone(),
		Token:         s.token,
		Authenticated: s.authenticated,
		Timer:         s.timer.State(),
	}
}

// StartInactivityTimer arms the countdown if authenticated and not already running.
func (s *Store) StartInactivityTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		return false
	}
	return s.timer.Arm()
}

// ResetInactivityTimer restarts the countdown from zero.
func (s *Store) ResetInactivityTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		s.timer.Cancel()
		return
	}
	s.timer.Reset()
}

// ClearInactivityTimer stops the countdown without logging out.
func (s *Store) ClearInactivityTimer() {
	s.timer.Cancel()
}

// TimerState reports the inactivity timer state.
func (s *Store) TimerState() TimerState {
	return s.timer.State()
}

func (s *Store) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.ForceLogout(ctx, NoticeSessionExpired)
}

func (s *Store) recomputeLocked() {
	s.authenticated = s.token != "" && s.principal != nil
	if !s.authenticated {
		s.timer.Cancel()
	}
}

func (s *Store) persistToken(ctx context.Context, token string) {
	var err error
	if token == "" {
		err = s.storage.Delete(ctx, storage.KeyToken)
	} else {
		err = s.storage.Set(ctx, storage.KeyToken, token)
	}
	if err != nil {
		s.logger.Warn("session persist token", slog.Any("error", err))
	}
}

func (s *Store) persistPrincipal(ctx context.Context, p *Principal) {
	if p == nil {
		if err := s.storage.Delete(ctx, storage.KeyPrincipal); err != nil {
			s.logger.Warn("session remove principal", slog.Any("error", err))
		}
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("session encode principal", slog.Any("error", err))
		return
	}
	if err := s.storage.Set(ctx, storage.KeyPrincipal, string(data)); err != nil {
		s.logger.Warn("session persist principal", slog.Any("error", err))
	}
}
