package auth

import (
	"slices"
	"strings"
)

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

type Permission string

const (
	PermEventsWrite    Permission = "events:write"
	PermBookingsManage Permission = "bookings:manage"
	PermUsersManage    Permission = "users:manage"
	PermAuditRead      Permission = "audit:read"
)

// AllPermissions lists every permission a user record may carry.
var AllPermissions = []Permission{
	PermEventsWrite,
	PermBookingsManage,
	PermUsersManage,
	PermAuditRead,
}

func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return RoleParticipant
	}
}

// ValidRole reports whether role names a known role exactly.
func ValidRole(role string) bool {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAdmin, RoleParticipant:
		return true
	}
	return false
}

func ValidPermission(p string) bool {
	return slices.Contains(AllPermissions, Permission(p))
}

func HasRole(role string, allowed ...Role) bool {
	if len(allowed) == 0 {
		return false
	}
	current := NormalizeRole(role)
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

func IsAdmin(role string) bool {
	return NormalizeRole(role) == RoleAdmin
}

// HasPermission reports whether the role and permission list grant required.
// Admins hold every permission.
func HasPermission(role string, granted []string, required Permission) bool {
	if IsAdmin(role) {
		return true
	}
	return slices.Contains(granted, string(required))
}

// Can is HasPermission for token claims.
func (c *Claims) Can(required Permission) bool {
	if c == nil {
		return false
	}
	return HasPermission(c.Role, c.Permissions, required)
}
