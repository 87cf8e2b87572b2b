package security

import "strings"

// Roles
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleAdmin, RoleOperator, RoleViewer}

// rolePermissions maps each role to the tool permissions it holds. A
// trailing ".*" grants every verb in that area; admin holds everything.
var rolePermissions = map[string][]string{
	RoleAdmin: {"*"},
	RoleOperator: {
		"clients.*",
		"projects.*",
		"contracts.*",
		"invoices.*",
		"reports.read",
		"maps.run",
	},
	RoleViewer: {
		"clients.read",
		"projects.read",
		"contracts.read",
		"invoices.read",
		"reports.read",
	},
}

// HasPermission reports whether role holds permission. An empty permission
// means the tool is open to any authenticated caller.
func HasPermission(role, permission string) bool {
	if permission == "" {
		return true
	}
	for _, granted := range rolePermissions[role] {
		if granted == "*" || granted == permission {
			return true
		}
		if area, ok := strings.CutSuffix(granted, ".*"); ok {
			if strings.HasPrefix(permission, area+".") {
				return true
			}
		}
	}
	return false
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
