package pipeline

import (
	"strings"

	"github.com/sitecrew/construction-api/auth"
)

// RoleAllowList is the immutable set of roles permitted on a route.
// The zero value admits nobody; use AnyAuthenticated to admit every identity.
type RoleAllowList struct {
	roles []string
	any   bool
}

// Roles creates an allow-list of the given roles in order
func Roles(roles ...string) RoleAllowList {
	out := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return RoleAllowList{roles: out}
}

// AnyAuthenticated admits every authenticated identity regardless of role
func AnyAuthenticated() RoleAllowList {
	return RoleAllowList{any: true}
}

// List returns a copy of the allowed roles
func (l RoleAllowList) List() []string {
	out := make([]string, len(l.roles))
	copy(out, l.roles)
	return out
}

// AllowsAny reports whether the list admits any authenticated identity
func (l RoleAllowList) AllowsAny() bool {
	return l.any
}

// Contains reports whether role is a member of the list
func (l RoleAllowList) Contains(role string) bool {
	for _, r := range l.roles {
		if r == role {
			return true
		}
	}
	return false
}

// String renders the list for logs
func (l RoleAllowList) String() string {
	if l.any {
		return "*"
	}
	return strings.Join(l.roles, ",")
}

// Authorize checks identity against the list and passes it through on success
func (l RoleAllowList) Authorize(identity auth.Identity) (auth.Identity, error) {
	if l.any {
		return identity, nil
	}
	if identity.Role == "" {
		return auth.Identity{}, NewForbidden("missing user role")
	}
	if !l.Contains(identity.Role) {
		return auth.Identity{}, NewForbidden("insufficient role")
	}
	return identity, nil
}
