package auth

import "slices"

// Admin roles carried in the admin realm's role claim.
//
// viewer reads accounts, histories and round summaries. admin additionally
// posts adjustments, reversals, deposits and catalog or session changes.
// superadmin has the same ledger powers as admin.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

var (
	adminRoles = []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
	writeRoles = []string{RoleAdmin, RoleSuperAdmin}
)

// AllAdminRoles returns every role accepted on an admin token.
func AllAdminRoles() []string { return slices.Clone(adminRoles) }

// WriteRoles returns the roles allowed to move money or change state.
func WriteRoles() []string { return slices.Clone(writeRoles) }

// IsAdminRole reports whether role may appear on an admin token.
func IsAdminRole(role string) bool { return slices.Contains(adminRoles, role) }
