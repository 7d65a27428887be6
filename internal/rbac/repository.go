package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository reads role and permission reference data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by id.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, shared.DatabaseError("list roles", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Role])
	if err != nil {
		return nil, shared.DatabaseError("list roles", err)
	}
	return roles, nil
}

// ListPermissions returns all permissions ordered by id.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM permissions ORDER BY id`)
	if err != nil {
		return nil, shared.DatabaseError("list permissions", err)
	}
	perms, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Permission])
	if err != nil {
		return nil, shared.DatabaseError("list permissions", err)
	}
	return perms, nil
}

// RolesByUser batch-loads roles for every user id with a single query.
func RolesByUser(ctx context.Context, q db.Querier, userIDs []int64) (map[int64][]Role, error) {
	out := make(map[int64][]Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT ur.user_id, r.id, r.name, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1)
		ORDER BY ur.user_id, r.id`, userIDs)
	if err != nil {
		return nil, shared.DatabaseError("roles by user", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var role Role
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, shared.DatabaseError("roles by user", err)
		}
		out[userID] = append(out[userID], role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.DatabaseError("roles by user", err)
	}
	return out, nil
}

// PermissionsByUser batch-loads materialized permissions for every user id.
func PermissionsByUser(ctx context.Context, q db.Querier, userIDs []int64) (map[int64][]Permission, error) {
	out := make(map[int64][]Permission, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT up.user_id, p.id, p.name, p.created_at, p.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = ANY($1)
		ORDER BY up.user_id, p.id`, userIDs)
	if err != nil {
		return nil, shared.DatabaseError("permissions by user", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var perm Permission
		if err := rows.Scan(&userID, &perm.ID, &perm.Name, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, shared.DatabaseError("permissions by user", err)
		}
		out[userID] = append(out[userID], perm)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.DatabaseError("permissions by user", err)
	}
	return out, nil
}
