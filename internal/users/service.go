package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// PasswordHasher produces and checks password digests.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) (bool, error)
	NeedsRehash(digest string) bool
}

// Service handles user business logic.
type Service struct {
	repo       Repository
	hasher     PasswordHasher
	reconciler *rbac.Reconciler
	cache      PrincipalCache
	logger     *slog.Logger
}

// NewService builds Service instance. A nil cache disables principal caching.
func NewService(repo Repository, hasher PasswordHasher, reconciler *rbac.Reconciler, cache PrincipalCache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, hasher: hasher, reconciler: reconciler, cache: cache, logger: logger}
}

// NormalizeUsername trims and NFC-normalizes a username.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

// CreateUser registers a user with the default role and its permissions.
func (s *Service) CreateUser(ctx context.Context, username, password string) (User, error) {
	username = NormalizeUsername(username)
	exists, err := s.repo.ExistsByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, fmt.Errorf("username %q: %w", username, shared.ErrUserExisted)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}

	var user User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertUser(ctx, username, digest)
		if err != nil {
			return err
		}
		roleID, err := tx.RoleIDByName(ctx, rbac.DefaultRole.String())
		if err != nil {
			return err
		}
		if _, err := s.reconciler.UpdateRoles(ctx, tx, id, []int64{roleID}); err != nil {
			return err
		}
		user, err = tx.LoadUser(ctx, id)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user created", slog.Int64("user_id", user.ID), slog.String("username", user.Username))
	return user, nil
}

// DeleteUser removes the user and every membership row.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	var username string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		user, err := tx.LoadUser(ctx, id)
		if err != nil {
			return err
		}
		username = user.Username
		if err := tx.DeleteMemberships(ctx, id); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, username)
	s.logger.Info("user deleted", slog.Int64("user_id", id))
	return nil
}

// UpdateUser applies the branch selected by input.IsWho: the user themself may
// change username and password, a moderator may change permissions and an admin
// may change roles and permissions.
func (s *Service) UpdateUser(ctx context.Context, id int64, input UpdateInput) (User, error) {
	who := input.IsWho
	if !who.Any() {
		return User{}, fmt.Errorf("update user %d: %w", id, shared.ErrForbidden)
	}
	exists, err := s.repo.ExistsByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !exists {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}

	var digest *string
	if who.IsOwnUser && input.Password != nil {
		hashed, err := s.hasher.Hash(*input.Password)
		if err != nil {
			return User{}, err
		}
		digest = &hashed
	}

	var before, after User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		var err error
		if before, err = tx.LoadUser(ctx, id); err != nil {
			return err
		}

		switch {
		case who.IsOwnUser:
			if err := s.updateCredentials(ctx, tx, before, input.Username, digest); err != nil {
				return err
			}
		case who.IsAdmin:
			if input.Roles != nil {
				if _, err := s.reconciler.UpdateRoles(ctx, tx, id, input.Roles); err != nil {
					return err
				}
			}
			if input.Permissions != nil {
				if _, err := s.reconciler.UpdatePermissions(ctx, tx, id, input.Permissions); err != nil {
					return err
				}
			}
		case who.IsModerator:
			if input.Permissions != nil {
				if _, err := s.reconciler.UpdatePermissions(ctx, tx, id, input.Permissions); err != nil {
					return err
				}
			}
		}

		after, err = tx.LoadUser(ctx, id)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.cache.Delete(ctx, before.Username, after.Username)
	return after, nil
}

func (s *Service) updateCredentials(ctx context.Context, tx TxRepository, current User, username, digest *string) error {
	if username != nil {
		normalized := NormalizeUsername(*username)
		if normalized == current.Username {
			username = nil
		} else {
			taken, err := tx.ExistsByUsername(ctx, normalized)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("username %q: %w", normalized, shared.ErrUserExisted)
			}
			username = &normalized
		}
	}
	if username == nil && digest == nil {
		return nil
	}
	return tx.UpdateCredentials(ctx, current.ID, username, digest)
}

// GetUserByID returns the assembled user.
func (s *Service) GetUserByID(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetUserByUsername returns the assembled user.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.repo.GetByUsername(ctx, NormalizeUsername(username))
}

// GetUsers returns one page of users with the total row count.
func (s *Service) GetUsers(ctx context.Context, page shared.Pagination) (Page, error) {
	if err := page.Validate(); err != nil {
		return Page{}, err
	}
	users, total, err := s.repo.List(ctx, page)
	if err != nil {
		return Page{}, err
	}
	return Page{Users: users, TotalCount: total, Pagination: page}, nil
}

// Authenticate checks credentials and returns the assembled user. Unknown
// usernames and wrong passwords fail identically.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.repo.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, err
	}
	ok, err := s.hasher.Verify(password, user.Password)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, shared.ErrInvalidCredentials
	}
	if s.hasher.NeedsRehash(user.Password) {
		s.upgradeDigest(ctx, user.ID, password)
	}
	return user, nil
}

func (s *Service) upgradeDigest(ctx context.Context, id int64, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.UpdateCredentials(ctx, id, nil, &digest)
		})
	}
	if err != nil {
		s.logger.Warn("password digest upgrade failed", slog.Int64("user_id", id), slog.Any("error", err))
	}
}

// LookupPrincipal returns the user for a verified token subject, served from the
// principal cache when possible. A store read that races an invalidation is
// returned but not cached.
func (s *Service) LookupPrincipal(ctx context.Context, username string) (User, error) {
	if user, ok := s.cache.Get(ctx, username); ok {
		return user, nil
	}
	gen, cacheable := s.cache.Generation(ctx, username)
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return User{}, err
	}
	user.Password = ""
	if cacheable {
		s.cache.Set(ctx, user, gen)
	}
	return user, nil
}

// RematerializeUser repairs one user's materialized permissions.
func (s *Service) RematerializeUser(ctx context.Context, id int64) (rbac.Diff, error) {
	var (
		diff rbac.Diff
		user User
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if diff, err = s.reconciler.Rematerialize(ctx, tx, id); err != nil {
			return err
		}
		user, err = tx.LoadUser(ctx, id)
		return err
	})
	if err != nil {
		return rbac.Diff{}, err
	}
	if !diff.Empty() {
		s.cache.Delete(ctx, user.Username)
	}
	return diff, nil
}

// RematerializeAll repairs every user in id order, one transaction per user.
// It returns how many users gained permissions.
func (s *Service) RematerializeAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	changed := 0
	var after int64
	for {
		ids, err := s.repo.UserIDsAfter(ctx, after, batchSize)
		if err != nil {
			return changed, err
		}
		for _, id := range ids {
			diff, err := s.RematerializeUser(ctx, id)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					continue
				}
				return changed, err
			}
			if !diff.Empty() {
				changed++
			}
		}
		if len(ids) < batchSize {
			return changed, nil
		}
		after = ids[len(ids)-1]
	}
}
