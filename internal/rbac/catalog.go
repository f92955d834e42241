package rbac

// Customer (enterprise record) permissions.
const (
	PermCustomerCreate = "customer_action_create"
	PermCustomerEdit   = "customer_action_edit"
	PermCustomerDelete = "customer_action_delete"
	PermCustomerExport = "customer_action_export"
	PermCustomerAll    = "customer_data_all"
)

// Contract permissions.
const (
	PermContractCreate = "contract_action_create"
	PermContractEdit   = "contract_action_edit"
	PermContractDelete = "contract_action_delete"
	PermContractSign   = "contract_action_sign"
	PermContractUpload = "contract_action_upload"
	PermContractAll    = "contract_data_all"
)

// Department permissions.
const (
	PermDepartmentCreate = "department_action_create"
	PermDepartmentEdit   = "department_action_edit"
	PermDepartmentDelete = "department_action_delete"
)

// User account permissions.
const (
	PermUserCreate        = "user_action_create"
	PermUserEdit          = "user_action_edit"
	PermUserDelete        = "user_action_delete"
	PermUserResetPassword = "user_action_reset_password"
)

// Role and permission administration.
const (
	PermRoleCreate     = "role_action_create"
	PermRoleEdit       = "role_action_edit"
	PermRoleDelete     = "role_action_delete"
	PermPermissionView = "permission_action_view"
	PermPermissionEdit = "permission_action_edit"
)

// Financial self-inspection permissions.
const (
	PermInspectionCreate = "inspection_action_create"
	PermInspectionEdit   = "inspection_action_edit"
	PermInspectionDelete = "inspection_action_delete"
	PermInspectionReview = "inspection_action_review"
	PermInspectionAll    = "inspection_data_all"
)

// Scopes lists every permission the console checks, grouped by page.
func Scopes() map[string][]string {
	return map[string][]string{
		"customer":   {PermCustomerCreate, PermCustomerEdit, PermCustomerDelete, PermCustomerExport, PermCustomerAll},
		"contract":   {PermContractCreate, PermContractEdit, PermContractDelete, PermContractSign, PermContractUpload, PermContractAll},
		"department": {PermDepartmentCreate, PermDepartmentEdit, PermDepartmentDelete},
		"user":       {PermUserCreate, PermUserEdit, PermUserDelete, PermUserResetPassword},
		"role":       {PermRoleCreate, PermRoleEdit, PermRoleDelete, PermPermissionView, PermPermissionEdit},
		"inspection": {PermInspectionCreate, PermInspectionEdit, PermInspectionDelete, PermInspectionReview, PermInspectionAll},
	}
}
