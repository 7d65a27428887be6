package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Repository defines the interface for user persistence.
type Repository interface {
	// Read operations
	GetByID(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	ExistsByID(ctx context.Context, id int64) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	List(ctx context.Context, page shared.Pagination) ([]User, int64, error)
	UserIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional write operations. It embeds the membership
// store so the reconciler runs in the same transaction.
type TxRepository interface {
	rbac.MembershipStore
	RoleIDByName(ctx context.Context, name string) (int64, error)
	InsertUser(ctx context.Context, username, digest string) (int64, error)
	UpdateCredentials(ctx context.Context, id int64, username, digest *string) error
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	DeleteMemberships(ctx context.Context, id int64) error
	DeleteUser(ctx context.Context, id int64) error
	LoadUser(ctx context.Context, id int64) (User, error)
}

const selectUser = `SELECT id, username, password, created_at, updated_at FROM users`

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	*rbac.TxStore
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: rbac.NewTxStore(tx), tx: tx})
	})
	return shared.DatabaseError("users tx", err)
}

// GetByID assembles the user from a single snapshot.
func (r *repository) GetByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		user, err = loadUser(ctx, tx, selectUser+` WHERE id = $1`, id)
		if db.IsNoRows(err) {
			return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
		}
		return err
	})
	return user, shared.DatabaseError("get user", err)
}

// GetByUsername assembles the user from a single snapshot.
func (r *repository) GetByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		user, err = loadUser(ctx, tx, selectUser+` WHERE username = $1`, username)
		if db.IsNoRows(err) {
			return fmt.Errorf("user %q: %w", username, shared.ErrNotFound)
		}
		return err
	})
	return user, shared.DatabaseError("get user by username", err)
}

func (r *repository) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, shared.DatabaseError("user exists", err)
}

func (r *repository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return existsByUsername(ctx, r.pool, username)
}

// List returns one page plus the unfiltered total. The page, role and permission
// reads are separate batch queries and may observe different snapshots.
func (r *repository) List(ctx context.Context, page shared.Pagination) ([]User, int64, error) {
	var (
		infos []UserInfo
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, selectUser+` ORDER BY id LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
		if err != nil {
			return shared.DatabaseError("list users", err)
		}
		infos, err = pgx.CollectRows(rows, pgx.RowToStructByPos[UserInfo])
		return shared.DatabaseError("list users", err)
	})
	g.Go(func() error {
		err := r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM users`).Scan(&total)
		return shared.DatabaseError("count users", err)
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	users, err := assemble(ctx, r.pool, infos)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// UserIDsAfter pages user ids in ascending order for batch jobs.
func (r *repository) UserIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, shared.DatabaseError("user ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	return ids, shared.DatabaseError("user ids", err)
}

func (t *txRepository) InsertUser(ctx context.Context, username, digest string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id`, username, digest).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("username %q: %w", username, shared.ErrUserExisted)
	}
	return id, shared.DatabaseError("insert user", err)
}

func (t *txRepository) UpdateCredentials(ctx context.Context, id int64, username, digest *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users
		SET username = COALESCE($2, username),
		    password = COALESCE($3, password),
		    updated_at = NOW()
		WHERE id = $1`, id, username, digest)
	if db.IsUniqueViolation(err) && username != nil {
		return fmt.Errorf("username %q: %w", *username, shared.ErrUserExisted)
	}
	if err != nil {
		return shared.DatabaseError("update credentials", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return existsByUsername(ctx, t.tx, username)
}

func (t *txRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return shared.DatabaseError("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) LoadUser(ctx context.Context, id int64) (User, error) {
	user, err := loadUser(ctx, t.tx, selectUser+` WHERE id = $1`, id)
	if db.IsNoRows(err) {
		return User{}, fmt.Errorf("user %d: %w", id, shared.ErrNotFound)
	}
	return user, shared.DatabaseError("load user", err)
}

func loadUser(ctx context.Context, q db.Querier, sql string, arg any) (User, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return User{}, err
	}
	info, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[UserInfo])
	if err != nil {
		return User{}, err
	}
	users, err := assemble(ctx, q, []UserInfo{info})
	if err != nil {
		return User{}, err
	}
	return users[0], nil
}

// assemble attaches roles and permissions with one batch query each.
func assemble(ctx context.Context, q db.Querier, infos []UserInfo) ([]User, error) {
	ids := make([]int64, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	roles, err := rbac.RolesByUser(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	perms, err := rbac.PermissionsByUser(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	users := make([]User, len(infos))
	for i, info := range infos {
		users[i] = User{
			UserInfo:    info,
			Roles:       nonNil(roles[info.ID]),
			Permissions: nonNil(perms[info.ID]),
		}
	}
	return users, nil
}

func existsByUsername(ctx context.Context, q db.Querier, username string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	return exists, shared.DatabaseError("username exists", err)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
