package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// TxStore implements MembershipStore on top of an open transaction.
type TxStore struct {
	q db.Querier
}

// NewTxStore wraps q, which should be a pgx.Tx.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

func (s *TxStore) LockUser(ctx context.Context, userID int64) error {
	var id int64
	err := s.q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if db.IsNoRows(err) {
		return fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
	}
	return shared.DatabaseError("lock user", err)
}

func (s *TxStore) UserRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.ids(ctx, "user role ids",
		`SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
}

func (s *TxStore) UserPermissionIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.ids(ctx, "user permission ids",
		`SELECT permission_id FROM user_permissions WHERE user_id = $1 ORDER BY permission_id`, userID)
}

func (s *TxStore) PermissionIDsForRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return s.ids(ctx, "role permission ids",
		`SELECT DISTINCT permission_id FROM role_permissions WHERE role_id = ANY($1) ORDER BY permission_id`, roleIDs)
}

func (s *TxStore) ExistingRoleIDs(ctx context.Context, roleIDs []int64) ([]int64, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return s.ids(ctx, "existing role ids", `SELECT id FROM roles WHERE id = ANY($1) ORDER BY id`, roleIDs)
}

// RoleIDByName resolves a seeded role.
func (s *TxStore) RoleIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	if db.IsNoRows(err) {
		return 0, fmt.Errorf("role %q: %w", name, shared.ErrNotFound)
	}
	if err != nil {
		return 0, shared.DatabaseError("role by name", err)
	}
	return id, nil
}

func (s *TxStore) InsertUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (user_id, role_id) DO UPDATE SET updated_at = NOW()`, userID, roleIDs)
	return shared.DatabaseError("insert user roles", err)
}

func (s *TxStore) DeleteUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = ANY($2)`, userID, roleIDs)
	return shared.DatabaseError("delete user roles", err)
}

func (s *TxStore) InsertUserPermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (user_id, permission_id) DO UPDATE SET updated_at = NOW()`, userID, permissionIDs)
	return shared.DatabaseError("insert user permissions", err)
}

func (s *TxStore) DeleteUserPermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = ANY($2)`, userID, permissionIDs)
	return shared.DatabaseError("delete user permissions", err)
}

// DeleteMemberships removes every role and permission row of the user.
func (s *TxStore) DeleteMemberships(ctx context.Context, userID int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
		return shared.DatabaseError("delete user permissions", err)
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return shared.DatabaseError("delete user roles", err)
	}
	return nil
}

func (s *TxStore) ids(ctx context.Context, op, sql string, args ...any) ([]int64, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.DatabaseError(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.DatabaseError(op, err)
	}
	return ids, nil
}

var _ MembershipStore = (*TxStore)(nil)
