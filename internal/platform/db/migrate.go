package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Direction selects which migration files are applied.
type Direction string

// Migration directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate applies *_up.sql files not yet recorded in schema_migrations in ascending
// order, or reverts the most recent recorded ones in descending order. steps of
// zero means all. It returns the versions it applied or reverted.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string, direction Direction, steps int) ([]string, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("platform/db: unknown migration direction %q", direction)
	}
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("platform/db: create schema_migrations: %w", err)
	}

	files, err := listMigrations(fsys, dir, "_"+string(direction)+".sql")
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, version := range sortedKeys(files) {
		if _, ok := applied[version]; ok == (direction == Down) {
			pending = append(pending, version)
		}
	}
	if direction == Down {
		for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
			pending[i], pending[j] = pending[j], pending[i]
		}
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	for _, version := range pending {
		sql, err := fs.ReadFile(fsys, files[version])
		if err != nil {
			return nil, fmt.Errorf("platform/db: read %s: %w", files[version], err)
		}
		err = WithTx(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			if direction == Up {
				_, err = tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			} else {
				_, err = tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("platform/db: migrate %s %s: %w", direction, version, err)
		}
	}
	return pending, nil
}

func listMigrations(fsys fs.FS, dir, suffix string) (map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("platform/db: list migrations: %w", err)
	}
	out := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), suffix) {
			continue
		}
		out[strings.TrimSuffix(name, suffix)] = path.Join(dir, name)
	}
	return out, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("platform/db: read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("platform/db: read schema_migrations: %w", err)
	}
	out := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		out[v] = struct{}{}
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
