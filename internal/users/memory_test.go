package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac/rbactest"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// memoryRepo is a copy-on-write Repository: WithTx works on clones and swaps them
// in only when fn succeeds.
type memoryRepo struct {
	mu     sync.Mutex
	store  *rbactest.MemoryStore
	users  map[int64]UserInfo
	nextID int64
	now    time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		store: rbactest.NewSeeded(),
		users: map[int64]UserInfo{},
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type memoryTx struct {
	*rbactest.MemoryStore
	repo  *memoryRepo
	users map[int64]UserInfo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make(map[int64]UserInfo, len(r.users))
	for id, u := range r.users {
		users[id] = u
	}
	tx := &memoryTx{MemoryStore: r.store.Clone(), repo: r, users: users}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.store = tx.MemoryStore
	r.users = tx.users
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return r.assemble(r.store, info), nil
}

func (r *memoryRepo) GetByUsername(_ context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range r.users {
		if info.Username == username {
			return r.assemble(r.store, info), nil
		}
	}
	return User{}, fmt.Errorf("user %q: %w", username, shared.ErrNotFound)
}

func (r *memoryRepo) ExistsByID(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[id]
	return ok, nil
}

func (r *memoryRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return usernameTaken(r.users, username), nil
}

func (r *memoryRepo) List(_ context.Context, page shared.Pagination) ([]User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.sortedIDs()
	out := []User{}
	for i := page.Offset; i < len(ids) && len(out) < page.Limit; i++ {
		out = append(out, r.assemble(r.store, r.users[ids[i]]))
	}
	return out, int64(len(ids)), nil
}

func (r *memoryRepo) UserIDsAfter(_ context.Context, afterID int64, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []int64{}
	for _, id := range r.sortedIDs() {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *memoryRepo) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *memoryRepo) assemble(store *rbactest.MemoryStore, info UserInfo) User {
	return User{UserInfo: info, Roles: store.RolesOf(info.ID), Permissions: store.PermissionsOf(info.ID)}
}

func (t *memoryTx) InsertUser(_ context.Context, username, digest string) (int64, error) {
	if usernameTaken(t.users, username) {
		return 0, fmt.Errorf("username %q: %w", username, shared.ErrUserExisted)
	}
	t.repo.nextID++
	id := t.repo.nextID
	t.users[id] = UserInfo{ID: id, Username: username, Password: digest, CreatedAt: t.repo.now, UpdatedAt: t.repo.now}
	t.MemoryStore.Users[id] = struct{}{}
	return id, nil
}

func (t *memoryTx) UpdateCredentials(_ context.Context, id int64, username, digest *string) error {
	info, ok := t.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	if username != nil {
		if usernameTaken(t.users, *username) {
			return fmt.Errorf("username %q: %w", *username, shared.ErrUserExisted)
		}
		info.Username = *username
	}
	if digest != nil {
		info.Password = *digest
	}
	t.users[id] = info
	return nil
}

func (t *memoryTx) ExistsByUsername(_ context.Context, username string) (bool, error) {
	return usernameTaken(t.users, username), nil
}

func (t *memoryTx) DeleteUser(_ context.Context, id int64) error {
	if _, ok := t.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	delete(t.users, id)
	delete(t.MemoryStore.Users, id)
	return nil
}

func (t *memoryTx) LoadUser(_ context.Context, id int64) (User, error) {
	info, ok := t.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return t.repo.assemble(t.MemoryStore, info), nil
}

func usernameTaken(users map[int64]UserInfo, username string) bool {
	for _, u := range users {
		if u.Username == username {
			return true
		}
	}
	return false
}

var _ Repository = (*memoryRepo)(nil)
var _ TxRepository = (*memoryTx)(nil)
