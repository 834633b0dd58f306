package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/schema"
)

// Adapter abstracts provider-specific behavior.
type Adapter interface {
	Provider() string
	Ping(ctx context.Context) error
	Close() error
	Dialect() Dialect
	// FetchSchema introspects the named tables. Tables that do not exist are
	// left out of the snapshot.
	FetchSchema(ctx context.Context, tables []string) (*schema.Snapshot, error)
	// CountOrphans counts non-null values of fk.Column in table that have no
	// matching row in the referenced table.
	CountOrphans(ctx context.Context, table string, fk schema.ForeignKey) (int64, error)
	Exec(ctx context.Context, stmt string) error
	ExecScript(ctx context.Context, script string) error
	BeginData(ctx context.Context) (DataTx, error)
}

// Open builds an adapter for the given configuration.
func Open(cfg config.DBConfig) (Adapter, error) {
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case config.ProviderPostgres:
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, err
		}
		pool(db)
		return NewPostgres(db, cfg.Schema), nil
	case config.ProviderMySQL:
		// Validate DSN early to provide actionable errors.
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, err
		}
		pool(db)
		return NewMySQL(db, cfg.Schema), nil
	case config.ProviderSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		// a single connection keeps PRAGMA foreign_keys and the data
		// transaction on the same handle
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
		return NewSQLite(db), nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", cfg.Provider)
	}
}

// DialectFor returns the DDL dialect of a provider without connecting.
func DialectFor(provider string) (Dialect, error) {
	switch strings.ToLower(provider) {
	case config.ProviderMySQL:
		return MySQLDialect{}, nil
	case config.ProviderPostgres:
		return PostgresDialect{}, nil
	case config.ProviderSQLite:
		return SQLiteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
}

func pool(db *sql.DB) {
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(5)
}

// conn carries the behavior shared by every provider.
type conn struct {
	db      *sql.DB
	dialect Dialect
	raise   identityRaiser
}

// identityRaiser moves the identifier generator of table to at least next.
// A non-empty result is a statement that must run after commit.
type identityRaiser func(ctx context.Context, tx *sql.Tx, table, column string, next int64) (string, error)

func (c *conn) Close() error { return c.db.Close() }

func (c *conn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *conn) Dialect() Dialect { return c.dialect }

func (c *conn) Exec(ctx context.Context, stmt string) error {
	_, err := c.db.ExecContext(ctx, stmt)
	return err
}

func (c *conn) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) CountOrphans(ctx context.Context, table string, fk schema.ForeignKey) (int64, error) {
	q := c.dialect.QuoteIdent
	stmt := fmt.Sprintf(`SELECT COUNT(*) FROM %s c LEFT JOIN %s p ON p.%s = c.%s WHERE c.%s IS NOT NULL AND p.%s IS NULL`,
		q(table), q(fk.RefTable), q(fk.RefColumn), q(fk.Column), q(fk.Column), q(fk.RefColumn))
	var n int64
	if err := c.db.QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orphans %s: %w", fk.Describe(table), err)
	}
	return n, nil
}

func (c *conn) BeginData(ctx context.Context) (DataTx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &dataTx{db: c.db, tx: tx, dialect: c.dialect, raise: c.raise}, nil
}

// uniqueTables drops duplicates while keeping the caller's order.
func uniqueTables(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
