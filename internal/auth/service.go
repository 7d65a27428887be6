package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/credential"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// UserService is the subset of the user service used for authentication.
type UserService interface {
	CreateUser(ctx context.Context, username, password string) (users.User, error)
	Authenticate(ctx context.Context, username, password string) (users.User, error)
	LookupPrincipal(ctx context.Context, username string) (users.User, error)
}

// TokenIssuer signs and verifies bearer tokens.
type TokenIssuer interface {
	Sign(subject credential.Subject) (string, time.Time, error)
	Verify(raw string) (*credential.Claims, error)
}

// Service wraps authentication business rules.
type Service struct {
	users  UserService
	tokens TokenIssuer
}

// NewService constructs a new Service.
func NewService(users UserService, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// SignUp registers a new user with the default role.
func (s *Service) SignUp(ctx context.Context, username, password string) (users.User, error) {
	return s.users.CreateUser(ctx, username, password)
}

// SignIn validates credentials and issues a token carrying the user's identity.
func (s *Service) SignIn(ctx context.Context, username, password string) (TokenResponse, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return TokenResponse{}, err
	}
	identity := user.Identity()
	token, exp, err := s.tokens.Sign(credential.Subject{
		ID:          identity.ID,
		Username:    identity.Username,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
	})
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{Token: token, TokenType: TokenTypeBearer, ExpiresAt: exp}, nil
}

// Resolve verifies raw and reloads the user it names. The returned identity
// reflects current roles and permissions, not the token snapshot. A token for a
// removed user, or for a username now owned by a different account, is forbidden.
func (s *Service) Resolve(ctx context.Context, raw string) (rbac.Identity, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return rbac.Identity{}, err
	}
	user, err := s.users.LookupPrincipal(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Identity{}, fmt.Errorf("user %q not exists or removed: %w", claims.Username, shared.ErrForbidden)
		}
		return rbac.Identity{}, err
	}
	if user.ID != claims.Subject.ID {
		return rbac.Identity{}, fmt.Errorf("user %q was reissued to another account: %w", claims.Username, shared.ErrForbidden)
	}
	return user.Identity(), nil
}
