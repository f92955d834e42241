package rbac

import "context"

// RoleRef is the nested role object some permission records carry.
type RoleRef struct {
	ID   int64  `json:"id,omitempty"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Record grants or denies one permission to one role.
type Record struct {
	ID             int64    `json:"id"`
	RoleName       string   `json:"role_name,omitempty"`
	Role           *RoleRef `json:"role,omitempty"`
	PageName       string   `json:"page_name"`
	PermissionName string   `json:"permission_name"`
	Value          bool     `json:"permission_value"`
	Description    string   `json:"description"`
}

// HeldBy reports whether the record belongs to role, matching the plain role
// name, the nested role code or the nested role display name.
func (r Record) HeldBy(role string) bool {
	if role == "" {
		return false
	}
	if r.RoleName == role {
		return true
	}
	return r.Role != nil && (r.Role.Code == role || r.Role.Name == role)
}

// Principal describes the authenticated actor.
type Principal interface {
	RoleCodes() []string
}

// PrincipalSource returns the current principal, if any.
type PrincipalSource func() (Principal, bool)

// Client is the remote permission API.
type Client interface {
	FetchPermissions(ctx context.Context) ([]Record, error)
	UpdatePermission(ctx context.Context, id int64, value bool) (Record, error)
}

// Metrics receives resolver events. A nil Metrics is allowed.
type Metrics interface {
	PermissionFailOpen()
	PermissionFetchFailed()
}
