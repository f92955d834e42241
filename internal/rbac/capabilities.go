package rbac

import (
	"errors"
	"strings"
)

// ErrUnknownBundle is returned by Capabilities for an unrecognised bundle name.
var ErrUnknownBundle = errors.New("rbac: unknown capability bundle")

// CustomerCapabilities gates the customer pages.
type CustomerCapabilities struct {
	Create  bool `json:"create"`
	Edit    bool `json:"edit"`
	Delete  bool `json:"delete"`
	Export  bool `json:"export"`
	ViewAll bool `json:"view_all"`
}

// ContractCapabilities gates the contract pages, including e-signature.
type ContractCapabilities struct {
	Create  bool `json:"create"`
	Edit    bool `json:"edit"`
	Delete  bool `json:"delete"`
	Sign    bool `json:"sign"`
	Upload  bool `json:"upload"`
	ViewAll bool `json:"view_all"`
}

// DepartmentCapabilities gates the department pages.
type DepartmentCapabilities struct {
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

// UserCapabilities gates user administration.
type UserCapabilities struct {
	Create        bool `json:"create"`
	Edit          bool `json:"edit"`
	Delete        bool `json:"delete"`
	ResetPassword bool `json:"reset_password"`
}

// RoleCapabilities gates role and permission administration.
type RoleCapabilities struct {
	Create          bool `json:"create"`
	Edit            bool `json:"edit"`
	Delete          bool `json:"delete"`
	ViewPermissions bool `json:"view_permissions"`
	EditPermissions bool `json:"edit_permissions"`
}

// InspectionCapabilities gates financial self-inspection tracking.
type InspectionCapabilities struct {
	Create  bool `json:"create"`
	Edit    bool `json:"edit"`
	Delete  bool `json:"delete"`
	Review  bool `json:"review"`
	ViewAll bool `json:"view_all"`
}

// Customer returns the customer bundle.
func (r *Resolver) Customer() CustomerCapabilities {
	has := r.checker()
	return CustomerCapabilities{
		Create:  has(PermCustomerCreate),
		Edit:    has(PermCustomerEdit),
		Delete:  has(PermCustomerDelete),
		Export:  has(PermCustomerExport),
		ViewAll: has(PermCustomerAll),
	}
}

// Contract returns the contract bundle.
func (r *Resolver) Contract() ContractCapabilities {
	has := r.checker()
	return ContractCapabilities{
		Create:  has(PermContractCreate),
		Edit:    has(PermContractEdit),
		Delete:  has(PermContractDelete),
		Sign:    has(PermContractSign),
		Upload:  has(PermContractUpload),
		ViewAll: has(PermContractAll),
	}
}

// Department returns the department bundle.
func (r *Resolver) Department() DepartmentCapabilities {
	has := r.checker()
	return DepartmentCapabilities{
		Create: has(PermDepartmentCreate),
		Edit:   has(PermDepartmentEdit),
		Delete: has(PermDepartmentDelete),
	}
}

// User returns the user administration bundle.
func (r *Resolver) User() UserCapabilities {
	has := r.checker()
	return UserCapabilities{
		Create:        has(PermUserCreate),
		Edit:          has(PermUserEdit),
		Delete:        has(PermUserDelete),
		ResetPassword: has(PermUserResetPassword),
	}
}

// Role returns the role administration bundle.
func (r *Resolver) Role() RoleCapabilities {
	has := r.checker()
	return RoleCapabilities{
		Create:          has(PermRoleCreate),
		Edit:            has(PermRoleEdit),
		Delete:          has(PermRoleDelete),
		ViewPermissions: has(PermPermissionView),
		EditPermissions: has(PermPermissionEdit),
	}
}

// Inspection returns the self-inspection bundle.
func (r *Resolver) Inspection() InspectionCapabilities {
	has := r.checker()
	return InspectionCapabilities{
		Create:  has(PermInspectionCreate),
		Edit:    has(PermInspectionEdit),
		Delete:  has(PermInspectionDelete),
		Review:  has(PermInspectionReview),
		ViewAll: has(PermInspectionAll),
	}
}

// Capabilities returns a bundle by name.
func (r *Resolver) Capabilities(bundle string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(bundle)) {
	case "customer":
		return r.Customer(), nil
	case "contract":
		return r.Contract(), nil
	case "department":
		return r.Department(), nil
	case "user":
		return r.User(), nil
	case "role":
		return r.Role(), nil
	case "inspection":
		return r.Inspection(), nil
	}
	return nil, ErrUnknownBundle
}
