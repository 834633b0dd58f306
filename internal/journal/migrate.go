package journal

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrator applies the embedded journal migrations in version order.
type migrator struct {
	pool   *pgxpool.Pool
	logger Logger
	fs     fs.FS
}

func (m *migrator) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := pending(m.fs, applied)
	if err != nil {
		return err
	}
	for _, file := range files {
		version, name, err := parseVersion(file)
		if err != nil {
			return err
		}
		body, err := fs.ReadFile(m.fs, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := m.apply(ctx, version, name, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		m.logger.Info("journal migration applied", "version", version, "name", name)
	}
	return nil
}

// pending lists the migration files whose version is not applied yet.
func pending(fsys fs.FS, applied map[int64]bool) ([]string, error) {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	out := files[:0]
	for _, file := range files {
		version, _, err := parseVersion(file)
		if err != nil {
			return nil, err
		}
		if !applied[version] {
			out = append(out, file)
		}
	}
	return out, nil
}

func (m *migrator) apply(ctx context.Context, version int64, name, body string) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, body); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schemasync_journal_migrations (version, name) VALUES ($1, $2)`, version, name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

func (m *migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schemasync_journal_migrations (
  version    BIGINT PRIMARY KEY,
  name       TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (m *migrator) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM schemasync_journal_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query journal migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func parseVersion(path string) (int64, string, error) {
	base := filepath.Base(path)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("invalid migration filename: %s", base)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid migration version in %s: %w", base, err)
	}
	return version, strings.TrimSuffix(parts[1], ".sql"), nil
}
