package users

import (
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// UserInfo is the stored identity record.
type UserInfo struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the assembled aggregate returned by every read.
type User struct {
	UserInfo
	Roles       []rbac.Role       `json:"roles"`
	Permissions []rbac.Permission `json:"permissions"`
}

// Identity projects the aggregate onto the caller identity used for authorization.
func (u User) Identity() rbac.Identity {
	return rbac.Identity{
		ID:          u.ID,
		Username:    u.Username,
		Roles:       rbac.RoleNames(u.Roles),
		Permissions: rbac.PermissionNames(u.Permissions),
	}
}

// Page is one window of the user listing.
type Page struct {
	Users      []User `json:"users"`
	TotalCount int64  `json:"total_count"`
	shared.Pagination
}

// UpdateInput carries an update request. Nil fields are left unchanged; a non-nil
// empty Permissions slice clears every grant.
type UpdateInput struct {
	Username    *string
	Password    *string
	Roles       []int64
	Permissions []int64
	IsWho       rbac.IsWho
}
