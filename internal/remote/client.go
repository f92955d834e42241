// Package remote talks to the accounting back-office REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
)

// ErrUnauthorized is returned when the API answers 401.
var ErrUnauthorized = errors.New("remote: unauthorized")

// StatusError is returned for any other non-2xx answer.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: status %d: %s", e.Status, e.Body)
}

// Credentials is the login exchange request.
type Credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginResult is the login exchange response.
type LoginResult struct {
	Token string            `json:"token"`
	User  session.Principal `json:"user"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type updateBody struct {
	Value bool `json:"permission_value"`
}

type passwordBody struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Client wraps interactions with the REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Login exchanges credentials for a token and the principal.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var out envelope[LoginResult]
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", creds, &out); err != nil {
		return LoginResult{}, err
	}
	if out.Data.Token == "" {
		return LoginResult{}, errors.New("remote: login response without token")
	}
	return out.Data, nil
}

// FetchPermissions returns every permission record of every role.
func (c *Client) FetchPermissions(ctx context.Context, token string) ([]rbac.Record, error) {
	var out envelope[[]rbac.Record]
	if err := c.do(ctx, http.MethodGet, "/permissions", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// UpdatePermission sets the value of one permission record.
func (c *Client) UpdatePermission(ctx context.Context, token string, id int64, value bool) (rbac.Record, error) {
	var out envelope[rbac.Record]
	path := fmt.Sprintf("/permissions/%d", id)
	if err := c.do(ctx, http.MethodPatch, path, token, updateBody{Value: value}, &out); err != nil {
		return rbac.Record{}, err
	}
	return out.Data, nil
}

// ChangePassword changes the principal's password.
func (c *Client) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) error {
	body := passwordBody{OldPassword: oldPassword, NewPassword: newPassword}
	return c.do(ctx, http.MethodPost, "/auth/password", token, body, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return nil
}
