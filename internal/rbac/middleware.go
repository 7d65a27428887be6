package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It expects the
// bearer middleware to have stored the caller identity on the request context.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.gate(func(identity Identity) bool {
		return hasAnyPermission(identity.Permissions, normalized)
	}, perms)
}

// RequireRole ensures the current user holds at least one of the named roles.
func (m Middleware) RequireRole(roles ...RoleKind) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.String()
	}
	return m.gate(func(identity Identity) bool {
		for _, name := range names {
			if containsString(identity.Roles, name) {
				return true
			}
		}
		return false
	}, names)
}

func (m Middleware) gate(allowed func(Identity) bool, required []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, m.Logger, fmt.Errorf("no identity on request: %w", shared.ErrUnauthorized))
				return
			}
			if !allowed(identity) {
				httpx.RespondError(w, m.Logger, fmt.Errorf("user %d lacks %v: %w", identity.ID, required, shared.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToUpper(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
