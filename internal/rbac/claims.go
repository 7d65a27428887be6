package rbac

import "context"

// GetRoleByClaim derives how identity relates to the target user.
func GetRoleByClaim(identity Identity, targetUserID int64) IsWho {
	return IsWho{
		IsOwnUser:   identity.ID == targetUserID,
		IsModerator: containsString(identity.Roles, RoleModerator.String()),
		IsAdmin:     containsString(identity.Roles, RoleAdmin.String()),
	}
}

type identityKey struct{}

// ContextWithIdentity stores the verified caller on ctx.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the verified caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
