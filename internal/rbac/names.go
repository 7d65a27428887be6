package rbac

import "fmt"

// RoleKind enumerates the seeded roles.
type RoleKind int

// Seeded roles.
const (
	RoleAdmin RoleKind = iota + 1
	RoleModerator
	RoleUser
)

// PermissionKind enumerates the seeded permissions.
type PermissionKind int

// Seeded permissions.
const (
	PermRead PermissionKind = iota + 1
	PermWrite
	PermDelete
	PermManagePermissions
	PermManageUsers
	PermManageRoles
	PermViewReports
	PermEditSettings
	PermUpdateUserInfo
	PermUpdateUserRoles
	PermUpdateUserPermissions
)

// DefaultRole is assigned to every new user.
const DefaultRole = RoleUser

var roleNames = []struct {
	kind RoleKind
	name string
}{
	{RoleAdmin, "Admin"},
	{RoleModerator, "Moderator"},
	{RoleUser, "User"},
}

var permissionNames = []struct {
	kind PermissionKind
	name string
}{
	{PermRead, "READ"},
	{PermWrite, "WRITE"},
	{PermDelete, "DELETE"},
	{PermManagePermissions, "MANAGE_PERMISSIONS"},
	{PermManageUsers, "MANAGE_USERS"},
	{PermManageRoles, "MANAGE_ROLES"},
	{PermViewReports, "VIEW_REPORTS"},
	{PermEditSettings, "EDIT_SETTINGS"},
	{PermUpdateUserInfo, "UPDATE_USER_INFO"},
	{PermUpdateUserRoles, "UPDATE_USER_ROLES"},
	{PermUpdateUserPermissions, "UPDATE_USER_PERMISSIONS"},
}

func (k RoleKind) String() string {
	for _, entry := range roleNames {
		if entry.kind == k {
			return entry.name
		}
	}
	return fmt.Sprintf("RoleKind(%d)", int(k))
}

// ParseRole resolves a stored role name.
func ParseRole(name string) (RoleKind, bool) {
	for _, entry := range roleNames {
		if entry.name == name {
			return entry.kind, true
		}
	}
	return 0, false
}

// RoleKinds lists every seeded role in table order.
func RoleKinds() []RoleKind {
	out := make([]RoleKind, len(roleNames))
	for i, entry := range roleNames {
		out[i] = entry.kind
	}
	return out
}

func (k PermissionKind) String() string {
	for _, entry := range permissionNames {
		if entry.kind == k {
			return entry.name
		}
	}
	return fmt.Sprintf("PermissionKind(%d)", int(k))
}

// ParsePermission resolves a stored permission name.
func ParsePermission(name string) (PermissionKind, bool) {
	for _, entry := range permissionNames {
		if entry.name == name {
			return entry.kind, true
		}
	}
	return 0, false
}

// PermissionKinds lists every seeded permission in table order.
func PermissionKinds() []PermissionKind {
	out := make([]PermissionKind, len(permissionNames))
	for i, entry := range permissionNames {
		out[i] = entry.kind
	}
	return out
}

// DefaultGrants is the reference role to permission mapping loaded by the seed.
func DefaultGrants() map[RoleKind][]PermissionKind {
	return map[RoleKind][]PermissionKind{
		RoleAdmin: PermissionKinds(),
		RoleModerator: {
			PermRead, PermWrite, PermViewReports, PermManagePermissions,
			PermUpdateUserInfo, PermUpdateUserPermissions,
		},
		RoleUser: {PermRead, PermUpdateUserInfo},
	}
}
