// Package memapi is an in-memory stand-in for the back-office REST API, used by
// the development server and by tests. It serves the same routes and envelopes
// as the real API.
package memapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
)

type account struct {
	principal    session.Principal
	passwordHash []byte
}

// Server holds users, issued tokens and permission records.
type Server struct {
	mu           sync.RWMutex
	accounts     map[string]*account
	tokens       map[string]string
	records      []rbac.Record
	failFetches  bool
	permissionHi int64
	router       chi.Router
}

// NewServer constructs an empty Server.
func NewServer() *Server {
	s := &Server{accounts: make(map[string]*account), tokens: make(map[string]string)}
	r := chi.NewRouter()
	r.Post("/auth/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/auth/password", s.handleChangePassword)
		r.Get("/permissions", s.handleListPermissions)
		r.Patch("/permissions/{id}", s.handleUpdatePermission)
	})
	s.router = r
	return s
}

// AddUser registers an account with a bcrypt-hashed password.
func (s *Server) AddUser(p session.Principal, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[p.Username] = &account{principal: *p.Clone(), passwordHash: hash}
	return nil
}

// AddRecords appends permission records, assigning ids to those without one.
func (s *Server) AddRecords(records ...rbac.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ID == 0 {
			s.permissionHi++
			rec.ID = s.permissionHi
		} else if rec.ID > s.permissionHi {
			s.permissionHi = rec.ID
		}
		s.records = append(s.records, rec)
	}
}

// Revoke invalidates a token so later calls answer 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// FailPermissionFetches makes the permission listing answer 503.
func (s *Server) FailPermissionFetches(fail bool) {
	s.mu.Lock()
	s.failFetches = fail
	s.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type userContextKey struct{}

func contextWithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userContextKey{}, username)
}

func userFromContext(ctx context.Context) string {
	username, _ := ctx.Value(userContextKey{}).(string)
	return username
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.RLock()
		username, ok := s.tokens[token]
		s.mu.RUnlock()
		if token == "" || !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), username)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds remote.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[creds.Username]
	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(creds.Password)) != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	token := uuid.NewString()
	s.tokens[token] = creds.Username
	writeData(w, remote.LoginResult{Token: token, User: *acct.principal.Clone()})
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.NewPassword) < 8 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	username := userFromContext(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[username]
	if acct == nil || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.OldPassword)) != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	now := time.Now().UTC()
	acct.passwordHash = hash
	acct.principal.PasswordChangedAt = &now
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failFetches {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	writeData(w, append([]rbac.Record{}, s.records...))
}

type updateRequest struct {
	Value *bool `json:"permission_value"`
}

func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Value = *req.Value
			writeData(w, s.records[i])
			return
		}
	}
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}
