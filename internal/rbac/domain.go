package rbac

import "time"

// Role represents a named authorization group. Roles are reference data.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is the verified caller: who they are and what they held at sign-in.
type Identity struct {
	ID          int64
	Username    string
	Roles       []string
	Permissions []string
}

// IsWho is the per-request decision of how the caller relates to a target user.
type IsWho struct {
	IsOwnUser   bool
	IsModerator bool
	IsAdmin     bool
}

// Any reports whether the caller holds at least one qualifying relation.
func (w IsWho) Any() bool {
	return w.IsOwnUser || w.IsModerator || w.IsAdmin
}

// Diff describes the membership rows written by a reconciliation.
type Diff struct {
	RolesInserted       []int64 `json:"roles_inserted,omitempty"`
	RolesDeleted        []int64 `json:"roles_deleted,omitempty"`
	PermissionsInserted []int64 `json:"permissions_inserted,omitempty"`
	PermissionsDeleted  []int64 `json:"permissions_deleted,omitempty"`
}

// Empty reports whether nothing was written.
func (d Diff) Empty() bool {
	return len(d.RolesInserted) == 0 && len(d.RolesDeleted) == 0 &&
		len(d.PermissionsInserted) == 0 && len(d.PermissionsDeleted) == 0
}
