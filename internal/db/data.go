package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DataTx is the row-level unit of work used by reference-data
// reconciliation. Nothing is visible to other sessions before Commit.
type DataTx interface {
	// RowIDs lists the identifier values currently stored in table.
	RowIDs(ctx context.Context, table, idColumn string) ([]any, error)
	// RaiseIdentity makes the identifier generator of table hand out values
	// of at least next.
	RaiseIdentity(ctx context.Context, table, idColumn string, next int64) error
	// Update writes row over the row identified by id and returns the number
	// of rows matched.
	Update(ctx context.Context, table, idColumn string, id any, row map[string]any) (int64, error)
	Insert(ctx context.Context, table string, row map[string]any) error
	Delete(ctx context.Context, table, idColumn string, id any) (int64, error)
	// CountReferences counts rows of table whose column equals id.
	CountReferences(ctx context.Context, table, column string, id any) (int64, error)
	// Commit makes the work visible. A *PostCommitError means the data was
	// committed but a follow-up statement failed.
	Commit() error
	Rollback() error
}

type dataTx struct {
	db       *sql.DB
	tx       *sql.Tx
	dialect  Dialect
	raise    identityRaiser
	deferred []string
}

func (d *dataTx) RowIDs(ctx context.Context, table, idColumn string) ([]any, error) {
	q := d.dialect.QuoteIdent
	rows, err := d.tx.QueryContext(ctx, "SELECT "+q(idColumn)+" FROM "+q(table)+" ORDER BY "+q(idColumn))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", table, err)
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if b, ok := id.([]byte); ok {
			id = string(b)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *dataTx) RaiseIdentity(ctx context.Context, table, idColumn string, next int64) error {
	if d.raise == nil {
		return nil
	}
	stmt, err := d.raise(ctx, d.tx, table, idColumn, next)
	if err != nil {
		return fmt.Errorf("raise identity of %s: %w", table, err)
	}
	if stmt != "" {
		d.deferred = append(d.deferred, stmt)
	}
	return nil
}

func (d *dataTx) Update(ctx context.Context, table, idColumn string, id any, row map[string]any) (int64, error) {
	q := d.dialect.QuoteIdent
	var (
		sets []string
		args []any
	)
	for _, col := range sortedKeys(row) {
		if col == idColumn {
			continue
		}
		args = append(args, row[col])
		sets = append(sets, q(col)+" = "+d.dialect.Placeholder(len(args)))
	}
	if len(sets) == 0 {
		sets = append(sets, q(idColumn)+" = "+q(idColumn))
	}
	args = append(args, id)
	stmt := "UPDATE " + q(table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + q(idColumn) + " = " + d.dialect.Placeholder(len(args))
	res, err := d.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s %s=%s: %w", table, idColumn, FormatID(id), err)
	}
	return res.RowsAffected()
}

func (d *dataTx) Insert(ctx context.Context, table string, row map[string]any) error {
	q := d.dialect.QuoteIdent
	cols := sortedKeys(row)
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		marks[i] = d.dialect.Placeholder(i + 1)
		args[i] = row[col]
	}
	stmt := "INSERT INTO " + q(table) + " (" + quoteList(cols, q) + ") VALUES (" + strings.Join(marks, ", ") + ")"
	if _, err := d.tx.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (d *dataTx) Delete(ctx context.Context, table, idColumn string, id any) (int64, error) {
	q := d.dialect.QuoteIdent
	res, err := d.tx.ExecContext(ctx, "DELETE FROM "+q(table)+" WHERE "+q(idColumn)+" = "+d.dialect.Placeholder(1), id)
	if err != nil {
		return 0, fmt.Errorf("delete %s %s=%s: %w", table, idColumn, FormatID(id), err)
	}
	return res.RowsAffected()
}

func (d *dataTx) CountReferences(ctx context.Context, table, column string, id any) (int64, error) {
	q := d.dialect.QuoteIdent
	var n int64
	err := d.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q(table)+" WHERE "+q(column)+" = "+d.dialect.Placeholder(1), id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count references %s.%s: %w", table, column, err)
	}
	return n, nil
}

// PostCommitError reports statements that failed after the transaction was
// committed. The committed data stays in place.
type PostCommitError struct {
	Err error
}

func (e *PostCommitError) Error() string { return "committed, but " + e.Err.Error() }

func (e *PostCommitError) Unwrap() error { return e.Err }

// Commit commits and then runs the statements identity raising could not
// run inside the transaction. Failures of the latter come back as a
// *PostCommitError.
func (d *dataTx) Commit() error {
	if err := d.tx.Commit(); err != nil {
		return err
	}
	var errs []error
	for _, stmt := range d.deferred {
		if _, err := d.db.Exec(stmt); err != nil {
			errs = append(errs, fmt.Errorf("after commit %q: %w", stmt, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &PostCommitError{Err: err}
	}
	return nil
}

func (d *dataTx) Rollback() error {
	d.deferred = nil
	return d.tx.Rollback()
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
