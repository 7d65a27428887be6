package rbac

import (
	"context"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// SeedReferenceData upserts the seeded roles, permissions and the default grant
// mapping. It is idempotent and never removes rows.
func SeedReferenceData(ctx context.Context, q db.Querier) error {
	for _, perm := range PermissionKinds() {
		if _, err := q.Exec(ctx, `
			INSERT INTO permissions (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, perm.String()); err != nil {
			return shared.DatabaseError("seed permissions", err)
		}
	}
	for _, role := range RoleKinds() {
		if _, err := q.Exec(ctx, `
			INSERT INTO roles (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING`, role.String()); err != nil {
			return shared.DatabaseError("seed roles", err)
		}
	}

	for role, perms := range DefaultGrants() {
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = p.String()
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT r.id, p.id
			FROM roles r
			JOIN permissions p ON p.name = ANY($2)
			WHERE r.name = $1
			ON CONFLICT DO NOTHING`, role.String(), names); err != nil {
			return shared.DatabaseError("seed role permissions", err)
		}
	}
	return nil
}
