package memapi

import (
	"fmt"
	"sort"

	"github.com/odyssey-erp/ledgerdesk/internal/rbac"
	"github.com/odyssey-erp/ledgerdesk/internal/session"
)

// Development accounts installed by Seed.
const (
	AdminUsername      = "admin"
	AccountantUsername = "accountant"
	AccountantRole     = "accountant"
)

// accountantGrants are the permissions the seeded accountant role holds.
var accountantGrants = map[string]bool{
	rbac.PermCustomerCreate:   true,
	rbac.PermCustomerEdit:     true,
	rbac.PermCustomerExport:   true,
	rbac.PermContractCreate:   true,
	rbac.PermContractEdit:     true,
	rbac.PermContractUpload:   true,
	rbac.PermInspectionCreate: true,
	rbac.PermInspectionEdit:   true,
}

// Seed installs a super administrator, an accountant and one permission record
// per catalogued permission for the accountant role. Both accounts share
// password.
func Seed(s *Server, password string) error {
	admin := session.Principal{ID: 1, Username: AdminUsername, Roles: []string{rbac.SuperAdminCode}}
	if err := s.AddUser(admin, password); err != nil {
		return fmt.Errorf("memapi: seed %s: %w", AdminUsername, err)
	}
	accountant := session.Principal{ID: 2, Username: AccountantUsername, Roles: []string{AccountantRole}}
	if err := s.AddUser(accountant, password); err != nil {
		return fmt.Errorf("memapi: seed %s: %w", AccountantUsername, err)
	}

	scopes := rbac.Scopes()
	pages := make([]string, 0, len(scopes))
	for page := range scopes {
		pages = append(pages, page)
	}
	sort.Strings(pages)

	for _, page := range pages {
		for _, perm := range scopes[page] {
			s.AddRecords(rbac.Record{
				Role:           &rbac.RoleRef{Code: AccountantRole, Name: "Accountant"},
				PageName:       page,
				PermissionName: perm,
				Value:          accountantGrants[perm],
			})
		}
	}
	return nil
}
