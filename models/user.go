package models

import (
	"time"
)

// UserRole represents the role of a user on the construction site
type UserRole string

const (
	RoleAdmin          UserRole = "Admin"
	RoleProjectManager UserRole = "ProjectManager"
	RoleSupervisor     UserRole = "Supervisor"
	RoleSkilledWorker  UserRole = "SkilledWorker"
	RoleLaborer        UserRole = "Laborer"
)

// Roles lists every assignable role
var Roles = []UserRole{RoleAdmin, RoleProjectManager, RoleSupervisor, RoleSkilledWorker, RoleLaborer}

// SkillLevels lists the accepted skill levels for workers
var SkillLevels = []string{"Junior", "Mid-level", "Senior", "Expert"}

// RoleNames returns Roles as plain strings
func RoleNames() []string {
	names := make([]string, len(Roles))
	for i, r := range Roles {
		names[i] = string(r)
	}
	return names
}

// IsValidRole reports whether role is one of Roles
func IsValidRole(role string) bool {
	for _, r := range Roles {
		if string(r) == role {
			return true
		}
	}
	return false
}

// User is the credential-bearing view of a users row
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsAdmin returns true if the user has the Admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
