package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/remote/memapi"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
)

func newServer(t *testing.T) (*memapi.Server, *remote.Client) {
	t.Helper()
	api := memapi.NewServer()
	require.NoError(t, api.AddUser(session.Principal{ID: 7, Username: "alice", Roles: []string{"editor"}}, "secret-pass"))
	api.AddRecords(
		rbac.Record{RoleName: "editor", PageName: "customer", PermissionName: rbac.PermCustomerEdit, Value: true},
		rbac.Record{RoleName: "editor", PageName: "customer", PermissionName: rbac.PermCustomerDelete},
	)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, remote.NewClient(srv.URL+"/", time.Second)
}

func TestLoginAndFetch(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()

	res, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, []string{"editor"}, res.User.Roles)

	records, err := client.FetchPermissions(ctx, res.Token)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rbac.PermCustomerEdit, records[0].PermissionName)
	assert.True(t, records[0].Value)
	assert.EqualValues(t, 1, records[0].ID)
}

func TestLoginWrongPassword(t *testing.T) {
	_, client := newServer(t)
	_, err := client.Login(context.Background(), remote.Credentials{Username: "alice", Password: "nope"})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestRevokedTokenIsUnauthorized(t *testing.T) {
	api, client := newServer(t)
	ctx := context.Background()
	res, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	api.Revoke(res.Token)
	_, err = client.FetchPermissions(ctx, res.Token)
	assert.ErrorIs(t, err, remote.ErrUnauthorized)
}

func TestUpdatePermission(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()
	res, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	rec, err := client.UpdatePermission(ctx, res.Token, 2, true)
	require.NoError(t, err)
	assert.True(t, rec.Value)
	assert.Equal(t, rbac.PermCustomerDelete, rec.PermissionName)

	_, err = client.UpdatePermission(ctx, res.Token, 99, true)
	var statusErr *remote.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestFetchFailureIsStatusError(t *testing.T) {
	api, client := newServer(t)
	ctx := context.Background()
	res, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	api.FailPermissionFetches(true)
	_, err = client.FetchPermissions(ctx, res.Token)
	var statusErr *remote.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestChangePassword(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()
	res, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	require.NoError(t, client.ChangePassword(ctx, res.Token, "secret-pass", "brand-new-pass"))
	_, err = client.Login(ctx, remote.Credentials{Username: "alice", Password: "secret-pass"})
	assert.ErrorIs(t, err, remote.ErrUnauthorized)

	again, err := client.Login(ctx, remote.Credentials{Username: "alice", Password: "brand-new-pass"})
	require.NoError(t, err)
	assert.NotNil(t, again.User.PasswordChangedAt)
}

func TestLoginWithoutTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"user":{"id":1,"username":"x"}}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := remote.NewClient(srv.URL, 0).Login(context.Background(), remote.Credentials{Username: "x", Password: "y"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, remote.ErrUnauthorized)
}
