// Package rbactest provides an in-memory MembershipStore for tests.
package rbactest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// ErrInjected is returned by the operation named in MemoryStore.FailOn.
var ErrInjected = errors.New("rbactest: injected failure")

// MemoryStore keeps reference data and membership rows in maps. It is not safe
// for concurrent use; callers serialise access.
type MemoryStore struct {
	Users       map[int64]struct{}
	Roles       map[int64]string
	Permissions map[int64]string
	Grants      map[int64][]int64
	UserRoles   map[int64]map[int64]struct{}
	UserPerms   map[int64]map[int64]struct{}

	// Writes counts insert and delete statements issued.
	Writes int
	// FailOn names a method that returns ErrInjected.
	FailOn string
}

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		Users:       map[int64]struct{}{},
		Roles:       map[int64]string{},
		Permissions: map[int64]string{},
		Grants:      map[int64][]int64{},
		UserRoles:   map[int64]map[int64]struct{}{},
		UserPerms:   map[int64]map[int64]struct{}{},
	}
}

// NewSeeded returns a store holding the default roles, permissions and grants.
// Ids equal the numeric value of the corresponding kind.
func NewSeeded() *MemoryStore {
	s := New()
	for _, role := range rbac.RoleKinds() {
		s.Roles[int64(role)] = role.String()
	}
	for _, perm := range rbac.PermissionKinds() {
		s.Permissions[int64(perm)] = perm.String()
	}
	for role, perms := range rbac.DefaultGrants() {
		ids := make([]int64, len(perms))
		for i, p := range perms {
			ids[i] = int64(p)
		}
		s.Grants[int64(role)] = ids
	}
	return s
}

// Clone deep-copies the store.
func (s *MemoryStore) Clone() *MemoryStore {
	c := New()
	for id := range s.Users {
		c.Users[id] = struct{}{}
	}
	for id, name := range s.Roles {
		c.Roles[id] = name
	}
	for id, name := range s.Permissions {
		c.Permissions[id] = name
	}
	for id, perms := range s.Grants {
		c.Grants[id] = append([]int64(nil), perms...)
	}
	for id, set := range s.UserRoles {
		c.UserRoles[id] = copySet(set)
	}
	for id, set := range s.UserPerms {
		c.UserPerms[id] = copySet(set)
	}
	c.Writes = s.Writes
	c.FailOn = s.FailOn
	return c
}

func (s *MemoryStore) LockUser(_ context.Context, userID int64) error {
	if err := s.fail("LockUser"); err != nil {
		return err
	}
	if _, ok := s.Users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
	}
	return nil
}

func (s *MemoryStore) UserRoleIDs(_ context.Context, userID int64) ([]int64, error) {
	if err := s.fail("UserRoleIDs"); err != nil {
		return nil, err
	}
	return keys(s.UserRoles[userID]), nil
}

func (s *MemoryStore) UserPermissionIDs(_ context.Context, userID int64) ([]int64, error) {
	if err := s.fail("UserPermissionIDs"); err != nil {
		return nil, err
	}
	return keys(s.UserPerms[userID]), nil
}

func (s *MemoryStore) PermissionIDsForRoles(_ context.Context, roleIDs []int64) ([]int64, error) {
	if err := s.fail("PermissionIDsForRoles"); err != nil {
		return nil, err
	}
	set := map[int64]struct{}{}
	for _, role := range roleIDs {
		for _, perm := range s.Grants[role] {
			set[perm] = struct{}{}
		}
	}
	return keys(set), nil
}

func (s *MemoryStore) ExistingRoleIDs(_ context.Context, roleIDs []int64) ([]int64, error) {
	if err := s.fail("ExistingRoleIDs"); err != nil {
		return nil, err
	}
	set := map[int64]struct{}{}
	for _, id := range roleIDs {
		if _, ok := s.Roles[id]; ok {
			set[id] = struct{}{}
		}
	}
	return keys(set), nil
}

// RoleIDByName resolves a role by name.
func (s *MemoryStore) RoleIDByName(_ context.Context, name string) (int64, error) {
	for id, n := range s.Roles {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("role %q: %w", name, shared.ErrNotFound)
}

func (s *MemoryStore) InsertUserRoles(_ context.Context, userID int64, roleIDs []int64) error {
	if err := s.fail("InsertUserRoles"); err != nil {
		return err
	}
	s.Writes++
	addAll(s.UserRoles, userID, roleIDs)
	return nil
}

func (s *MemoryStore) DeleteUserRoles(_ context.Context, userID int64, roleIDs []int64) error {
	if err := s.fail("DeleteUserRoles"); err != nil {
		return err
	}
	s.Writes++
	for _, id := range roleIDs {
		delete(s.UserRoles[userID], id)
	}
	return nil
}

func (s *MemoryStore) InsertUserPermissions(_ context.Context, userID int64, permissionIDs []int64) error {
	if err := s.fail("InsertUserPermissions"); err != nil {
		return err
	}
	s.Writes++
	addAll(s.UserPerms, userID, permissionIDs)
	return nil
}

func (s *MemoryStore) DeleteUserPermissions(_ context.Context, userID int64, permissionIDs []int64) error {
	if err := s.fail("DeleteUserPermissions"); err != nil {
		return err
	}
	s.Writes++
	for _, id := range permissionIDs {
		delete(s.UserPerms[userID], id)
	}
	return nil
}

// DeleteMemberships drops every membership row of the user.
func (s *MemoryStore) DeleteMemberships(_ context.Context, userID int64) error {
	if err := s.fail("DeleteMemberships"); err != nil {
		return err
	}
	s.Writes++
	delete(s.UserRoles, userID)
	delete(s.UserPerms, userID)
	return nil
}

// RolesOf assembles the user's roles ordered by id.
func (s *MemoryStore) RolesOf(userID int64) []rbac.Role {
	ids := keys(s.UserRoles[userID])
	out := make([]rbac.Role, 0, len(ids))
	for _, id := range ids {
		out = append(out, rbac.Role{ID: id, Name: s.Roles[id], CreatedAt: epoch, UpdatedAt: epoch})
	}
	return out
}

// PermissionsOf assembles the user's materialized permissions ordered by id.
func (s *MemoryStore) PermissionsOf(userID int64) []rbac.Permission {
	ids := keys(s.UserPerms[userID])
	out := make([]rbac.Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, rbac.Permission{ID: id, Name: s.Permissions[id], CreatedAt: epoch, UpdatedAt: epoch})
	}
	return out
}

// ListRoles returns reference roles ordered by id.
func (s *MemoryStore) ListRoles(context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(s.Roles))
	for _, id := range keys(toSet(s.Roles)) {
		out = append(out, rbac.Role{ID: id, Name: s.Roles[id], CreatedAt: epoch, UpdatedAt: epoch})
	}
	return out, nil
}

// ListPermissions returns reference permissions ordered by id.
func (s *MemoryStore) ListPermissions(context.Context) ([]rbac.Permission, error) {
	out := make([]rbac.Permission, 0, len(s.Permissions))
	for _, id := range keys(toSet(s.Permissions)) {
		out = append(out, rbac.Permission{ID: id, Name: s.Permissions[id], CreatedAt: epoch, UpdatedAt: epoch})
	}
	return out, nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (s *MemoryStore) fail(op string) error {
	if s.FailOn == op {
		return ErrInjected
	}
	return nil
}

func addAll(table map[int64]map[int64]struct{}, userID int64, ids []int64) {
	set, ok := table[userID]
	if !ok {
		set = map[int64]struct{}{}
		table[userID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toSet(m map[int64]string) map[int64]struct{} {
	set := make(map[int64]struct{}, len(m))
	for id := range m {
		set[id] = struct{}{}
	}
	return set
}

func copySet(in map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(in))
	for id := range in {
		out[id] = struct{}{}
	}
	return out
}

var _ rbac.MembershipStore = (*MemoryStore)(nil)
