package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/credential"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var testArgon2 = credential.Argon2Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLen: 16, KeyLen: 32}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo, credential.NewPasswordHasher(testArgon2), rbac.NewReconciler(nil), NewMemoryCache(time.Minute), nil)
	return svc, repo
}

func mustCreate(t *testing.T, svc *Service, username string) User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), username, "secret")
	require.NoError(t, err)
	return user
}

func strPtr(s string) *string { return &s }

func TestCreateAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created := mustCreate(t, svc, "alice")
	assert.Equal(t, "alice", created.Username)
	assert.Equal(t, []string{"User"}, rbac.RoleNames(created.Roles))
	assert.ElementsMatch(t, []string{"READ", "UPDATE_USER_INFO"}, rbac.PermissionNames(created.Permissions))

	user, err := svc.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, created.ID, user.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	require.True(t, errors.Is(err, shared.ErrUnauthorized))

	_, err = svc.Authenticate(ctx, "nobody", "secret")
	require.True(t, errors.Is(err, shared.ErrInvalidCredentials))
}

func TestCreateDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "alice")

	_, err := svc.CreateUser(context.Background(), "alice", "another")
	require.True(t, errors.Is(err, shared.ErrUserExisted))

	_, err = svc.CreateUser(context.Background(), "  alice ", "another")
	require.True(t, errors.Is(err, shared.ErrUserExisted))
}

func TestCreateRejectsEmptyPassword(t *testing.T) {
	svc, repo := newTestService(t)
	_, err := svc.CreateUser(context.Background(), "alice", "")
	require.True(t, errors.Is(err, shared.ErrBadRequest))
	assert.Empty(t, repo.users)
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	alice := mustCreate(t, svc, "alice")
	bob := mustCreate(t, svc, "bob")

	require.NoError(t, svc.DeleteUser(ctx, alice.ID))

	_, err := svc.GetUserByID(ctx, alice.ID)
	require.True(t, errors.Is(err, shared.ErrNotFound))
	assert.NotContains(t, repo.store.UserRoles, alice.ID)
	assert.NotContains(t, repo.store.UserPerms, alice.ID)
	assert.Contains(t, repo.store.UserRoles, bob.ID)

	err = svc.DeleteUser(ctx, alice.ID)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestGetUsersPagination(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	for _, name := range []string{"alice", "bob", "charlie"} {
		mustCreate(t, svc, name)
	}

	page, err := svc.GetUsers(ctx, shared.Pagination{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "bob", page.Users[0].Username)
	assert.Equal(t, int64(3), page.TotalCount)

	page, err = svc.GetUsers(ctx, shared.Pagination{Limit: 100, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Users)
	assert.Equal(t, int64(3), page.TotalCount)

	for _, bad := range []shared.Pagination{{Limit: 0}, {Limit: 101}, {Limit: 10, Offset: -1}} {
		_, err := svc.GetUsers(ctx, bad)
		assert.True(t, errors.Is(err, shared.ErrValidation))
	}
}

func TestUpdateUserAuthorizationMatrix(t *testing.T) {
	moderator := int64(rbac.RoleModerator)
	read := int64(rbac.PermRead)

	cases := []struct {
		name      string
		who       rbac.IsWho
		wantErr   error
		wantName  string
		wantRoles []string
		wantPerms []string
		newPass   bool
	}{
		{name: "nobody", who: rbac.IsWho{}, wantErr: shared.ErrForbidden},
		{
			name: "own user", who: rbac.IsWho{IsOwnUser: true},
			wantName: "robert", wantRoles: []string{"User"}, wantPerms: []string{"READ", "UPDATE_USER_INFO"}, newPass: true,
		},
		{
			name: "own admin", who: rbac.IsWho{IsOwnUser: true, IsAdmin: true},
			wantName: "robert", wantRoles: []string{"User"}, wantPerms: []string{"READ", "UPDATE_USER_INFO"}, newPass: true,
		},
		{
			name: "moderator", who: rbac.IsWho{IsModerator: true},
			wantName: "bob", wantRoles: []string{"User"}, wantPerms: []string{"READ"},
		},
		{
			name: "admin", who: rbac.IsWho{IsAdmin: true},
			wantName: "bob", wantRoles: []string{"Moderator"}, wantPerms: []string{"READ"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newTestService(t)
			bob := mustCreate(t, svc, "bob")

			user, err := svc.UpdateUser(ctx, bob.ID, UpdateInput{
				Username:    strPtr("robert"),
				Password:    strPtr("newpass"),
				Roles:       []int64{moderator},
				Permissions: []int64{read},
				IsWho:       tc.who,
			})
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, user.Username)
			assert.Equal(t, tc.wantRoles, rbac.RoleNames(user.Roles))
			assert.ElementsMatch(t, tc.wantPerms, rbac.PermissionNames(user.Permissions))

			_, err = svc.Authenticate(ctx, tc.wantName, "newpass")
			if tc.newPass {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, shared.ErrUnauthorized))
			}
		})
	}
}

func TestUpdateUserMissingTarget(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateUser(context.Background(), 99, UpdateInput{IsWho: rbac.IsWho{IsAdmin: true}})
	require.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = svc.UpdateUser(context.Background(), 99, UpdateInput{})
	require.True(t, errors.Is(err, shared.ErrForbidden))
}

func TestUpdateUserRollsBackOnReconcileFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	bob := mustCreate(t, svc, "bob")

	_, err := svc.UpdateUser(ctx, bob.ID, UpdateInput{
		Roles:       []int64{int64(rbac.RoleModerator)},
		Permissions: []int64{int64(rbac.PermDelete)},
		IsWho:       rbac.IsWho{IsAdmin: true},
	})
	require.True(t, errors.Is(err, shared.ErrBadRequest))

	user, err := svc.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"User"}, rbac.RoleNames(user.Roles))
}

func TestModeratorCannotGrantOutsideRoles(t *testing.T) {
	svc, _ := newTestService(t)
	bob := mustCreate(t, svc, "bob")

	_, err := svc.UpdateUser(context.Background(), bob.ID, UpdateInput{
		Permissions: []int64{int64(rbac.PermWrite)},
		IsWho:       rbac.IsWho{IsModerator: true},
	})
	require.True(t, errors.Is(err, shared.ErrBadRequest))
}

func TestRenameCollision(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc, "alice")
	bob := mustCreate(t, svc, "bob")

	_, err := svc.UpdateUser(context.Background(), bob.ID, UpdateInput{
		Username: strPtr("alice"),
		IsWho:    rbac.IsWho{IsOwnUser: true},
	})
	require.True(t, errors.Is(err, shared.ErrUserExisted))

	user, err := svc.UpdateUser(context.Background(), bob.ID, UpdateInput{
		Username: strPtr("bob"),
		IsWho:    rbac.IsWho{IsOwnUser: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
}

func TestLookupPrincipalInvalidatedOnUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	bob := mustCreate(t, svc, "bob")

	cached, err := svc.LookupPrincipal(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, cached.Password)
	assert.Len(t, cached.Permissions, 2)

	_, err = svc.UpdateUser(ctx, bob.ID, UpdateInput{
		Permissions: []int64{int64(rbac.PermRead)},
		IsWho:       rbac.IsWho{IsModerator: true},
	})
	require.NoError(t, err)

	fresh, err := svc.LookupPrincipal(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"READ"}, rbac.PermissionNames(fresh.Permissions))

	require.NoError(t, svc.DeleteUser(ctx, bob.ID))
	_, err = svc.LookupPrincipal(ctx, "bob")
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

// pausingRepo parks GetByUsername after the read until released.
type pausingRepo struct {
	*memoryRepo
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRepo) GetByUsername(ctx context.Context, username string) (User, error) {
	user, err := r.memoryRepo.GetByUsername(ctx, username)
	r.read <- struct{}{}
	<-r.release
	return user, err
}

func TestLookupPrincipalDoesNotCacheAcrossInvalidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(ctx context.Context, svc *Service, id int64) error
		check  func(t *testing.T, user User, err error)
	}{
		{
			name:   "delete",
			mutate: func(ctx context.Context, svc *Service, id int64) error { return svc.DeleteUser(ctx, id) },
			check: func(t *testing.T, _ User, err error) {
				require.True(t, errors.Is(err, shared.ErrNotFound))
			},
		},
		{
			name: "role change",
			mutate: func(ctx context.Context, svc *Service, id int64) error {
				_, err := svc.UpdateUser(ctx, id, UpdateInput{
					Roles: []int64{int64(rbac.RoleModerator)},
					IsWho: rbac.IsWho{IsAdmin: true},
				})
				return err
			},
			check: func(t *testing.T, user User, err error) {
				require.NoError(t, err)
				assert.Equal(t, []string{"Moderator"}, rbac.RoleNames(user.Roles))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newMemoryRepo()
			cache := NewMemoryCache(time.Minute)
			hasher := credential.NewPasswordHasher(testArgon2)
			svc := NewService(repo, hasher, rbac.NewReconciler(nil), cache, nil)
			bob := mustCreate(t, svc, "bob")

			paused := &pausingRepo{memoryRepo: repo, read: make(chan struct{}), release: make(chan struct{})}
			lookups := NewService(paused, hasher, rbac.NewReconciler(nil), cache, nil)

			done := make(chan error, 1)
			go func() {
				_, err := lookups.LookupPrincipal(ctx, "bob")
				done <- err
			}()
			<-paused.read
			require.NoError(t, tc.mutate(ctx, svc, bob.ID))
			close(paused.release)
			require.NoError(t, <-done)

			user, err := svc.LookupPrincipal(ctx, "bob")
			tc.check(t, user, err)
		})
	}
}

func TestRematerializeAll(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	for _, name := range []string{"alice", "bob", "charlie"} {
		mustCreate(t, svc, name)
	}
	userRole := int64(rbac.RoleUser)
	repo.store.Grants[userRole] = append(repo.store.Grants[userRole], int64(rbac.PermViewReports))

	changed, err := svc.RematerializeAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	user, err := svc.GetUserByUsername(ctx, "charlie")
	require.NoError(t, err)
	assert.Contains(t, rbac.PermissionNames(user.Permissions), "VIEW_REPORTS")

	changed, err = svc.RematerializeAll(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestAuthenticateUpgradesLegacyDigest(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	alice := mustCreate(t, svc, "alice")

	legacy, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	require.NoError(t, err)
	info := repo.users[alice.ID]
	info.Password = string(legacy)
	repo.users[alice.ID] = info

	_, err = svc.Authenticate(ctx, "alice", "123456")
	require.NoError(t, err)
	assert.Contains(t, repo.users[alice.ID].Password, "$argon2id$")

	_, err = svc.Authenticate(ctx, "alice", "123456")
	require.NoError(t, err)
}
