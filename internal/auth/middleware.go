package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Bearer authenticates requests by their Authorization header and stores the
// caller identity on the request context.
func Bearer(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httpx.RespondError(w, logger, fmt.Errorf("missing authorization header: %w", shared.ErrUnauthorized))
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				httpx.RespondError(w, logger, fmt.Errorf("invalid authorization header format: %w", shared.ErrUnauthorized))
				return
			}
			identity, err := service.Resolve(r.Context(), strings.TrimSpace(raw))
			if err != nil {
				httpx.RespondError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithIdentity(r.Context(), identity)))
		})
	}
}
