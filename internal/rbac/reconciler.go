package rbac

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// MembershipStore is the transaction-scoped view of user membership rows used by
// the Reconciler. Implementations must run every call inside the same transaction.
type MembershipStore interface {
	// LockUser takes a row lock on the user, failing with ErrNotFound when absent.
	LockUser(ctx context.Context, userID int64) error
	UserRoleIDs(ctx context.Context, userID int64) ([]int64, error)
	UserPermissionIDs(ctx context.Context, userID int64) ([]int64, error)
	PermissionIDsForRoles(ctx context.Context, roleIDs []int64) ([]int64, error)
	ExistingRoleIDs(ctx context.Context, roleIDs []int64) ([]int64, error)
	InsertUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	DeleteUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	InsertUserPermissions(ctx context.Context, userID int64, permissionIDs []int64) error
	DeleteUserPermissions(ctx context.Context, userID int64, permissionIDs []int64) error
}

// Recorder receives the outcome of every applied reconciliation.
type Recorder interface {
	ObserveReconcile(op string, diff Diff)
}

// Reconciliation operation names reported to the Recorder.
const (
	OpUpdatePermissions = "update_permissions"
	OpUpdateRoles       = "update_roles"
	OpRematerialize     = "rematerialize"
)

// Reconciler applies minimal insert/delete sets so that stored membership matches
// a requested target. Callers own the transaction; the Reconciler never commits.
//
// Role reconciliation treats the whole materialized permission set as role derived:
// a permission not covered by the new role set is pruned, including grants a
// moderator made earlier. Grants are limited to role coverage when they are made, so
// pruning only removes what the user's former roles admitted.
type Reconciler struct {
	recorder Recorder
}

// NewReconciler constructs a Reconciler. recorder may be nil.
func NewReconciler(recorder Recorder) *Reconciler {
	return &Reconciler{recorder: recorder}
}

// UpdatePermissions sets the user's materialized permissions to permissionIDs.
// Every id must be reachable through the user's current roles.
func (r *Reconciler) UpdatePermissions(ctx context.Context, store MembershipStore, userID int64, permissionIDs []int64) (Diff, error) {
	if err := validIDs("permission", permissionIDs); err != nil {
		return Diff{}, err
	}
	if err := store.LockUser(ctx, userID); err != nil {
		return Diff{}, err
	}

	roleIDs, err := store.UserRoleIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}
	allowed, err := store.PermissionIDsForRoles(ctx, roleIDs)
	if err != nil {
		return Diff{}, err
	}
	requested := distinct(permissionIDs)
	if outside := subtract(requested, allowed); len(outside) > 0 {
		return Diff{}, fmt.Errorf("user %d: permissions %v not granted by current roles: %w", userID, outside, shared.ErrBadRequest)
	}

	current, err := store.UserPermissionIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}
	diff := Diff{
		PermissionsDeleted:  subtract(current, requested),
		PermissionsInserted: subtract(requested, current),
	}
	if err := applyPermissions(ctx, store, userID, diff); err != nil {
		return Diff{}, err
	}
	r.observe(OpUpdatePermissions, diff)
	return diff, nil
}

// UpdateRoles sets the user's roles to roleIDs and re-derives permissions from the
// new role set.
func (r *Reconciler) UpdateRoles(ctx context.Context, store MembershipStore, userID int64, roleIDs []int64) (Diff, error) {
	if len(roleIDs) == 0 {
		return Diff{}, fmt.Errorf("user %d: at least one role is required: %w", userID, shared.ErrBadRequest)
	}
	if err := validIDs("role", roleIDs); err != nil {
		return Diff{}, err
	}
	if err := store.LockUser(ctx, userID); err != nil {
		return Diff{}, err
	}

	requested := distinct(roleIDs)
	known, err := store.ExistingRoleIDs(ctx, requested)
	if err != nil {
		return Diff{}, err
	}
	if unknown := subtract(requested, known); len(unknown) > 0 {
		return Diff{}, fmt.Errorf("roles %v: %w", unknown, shared.ErrBadRequest)
	}

	currentPerms, err := store.UserPermissionIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}
	currentRoles, err := store.UserRoleIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}

	diff := Diff{
		RolesDeleted:  subtract(currentRoles, requested),
		RolesInserted: subtract(requested, currentRoles),
	}
	if len(diff.RolesDeleted) > 0 {
		if err := store.DeleteUserRoles(ctx, userID, diff.RolesDeleted); err != nil {
			return Diff{}, err
		}
	}
	if len(diff.RolesInserted) > 0 {
		if err := store.InsertUserRoles(ctx, userID, diff.RolesInserted); err != nil {
			return Diff{}, err
		}
	}

	covered, err := store.PermissionIDsForRoles(ctx, requested)
	if err != nil {
		return Diff{}, err
	}
	diff.PermissionsDeleted = subtract(currentPerms, covered)
	diff.PermissionsInserted = subtract(covered, currentPerms)
	if err := applyPermissions(ctx, store, userID, diff); err != nil {
		return Diff{}, err
	}
	r.observe(OpUpdateRoles, diff)
	return diff, nil
}

// Rematerialize inserts permissions covered by the user's roles that are missing
// from the materialized set. It never deletes.
func (r *Reconciler) Rematerialize(ctx context.Context, store MembershipStore, userID int64) (Diff, error) {
	if err := store.LockUser(ctx, userID); err != nil {
		return Diff{}, err
	}
	roleIDs, err := store.UserRoleIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}
	covered, err := store.PermissionIDsForRoles(ctx, roleIDs)
	if err != nil {
		return Diff{}, err
	}
	current, err := store.UserPermissionIDs(ctx, userID)
	if err != nil {
		return Diff{}, err
	}
	diff := Diff{PermissionsInserted: subtract(covered, current)}
	if err := applyPermissions(ctx, store, userID, diff); err != nil {
		return Diff{}, err
	}
	r.observe(OpRematerialize, diff)
	return diff, nil
}

// applyPermissions deletes before inserting.
func applyPermissions(ctx context.Context, store MembershipStore, userID int64, diff Diff) error {
	if len(diff.PermissionsDeleted) > 0 {
		if err := store.DeleteUserPermissions(ctx, userID, diff.PermissionsDeleted); err != nil {
			return err
		}
	}
	if len(diff.PermissionsInserted) > 0 {
		if err := store.InsertUserPermissions(ctx, userID, diff.PermissionsInserted); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) observe(op string, diff Diff) {
	if r == nil || r.recorder == nil {
		return
	}
	r.recorder.ObserveReconcile(op, diff)
}

func validIDs(kind string, ids []int64) error {
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%s id %d: %w", kind, id, shared.ErrBadRequest)
		}
	}
	return nil
}
