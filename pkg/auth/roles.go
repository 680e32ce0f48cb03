// Package auth defines the roles API keys are issued for
package auth

// Role is an API key's privilege level. Higher roles include the lower ones.
type Role int

const (
	// User may inspect its own key
	User Role = iota
	// Editor may invalidate cached images
	Editor
	// Admin may change the cache version, run consistency checks and issue keys
	Admin
)

var roleNames = map[Role]string{
	User:   "user",
	Editor: "editor",
	Admin:  "admin",
}

// String returns the role name
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRole converts a role name to a Role. Unknown names get the lowest
// privilege.
func ParseRole(name string) Role {
	for role, n := range roleNames {
		if n == name {
			return role
		}
	}
	return User
}

// Valid reports whether name is a known role
func Valid(name string) bool {
	for _, n := range roleNames {
		if n == name {
			return true
		}
	}
	return false
}

// HasPermission reports whether r is at least required
func (r Role) HasPermission(required Role) bool {
	return r >= required
}
