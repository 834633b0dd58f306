package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"db_schema_reconciler/internal/schema"
)

// SQLiteAdapter reads the catalog through the pragma table-valued functions.
// SQLite does not name foreign keys, so they are reported as
// {table}_{column}_foreign.
type SQLiteAdapter struct {
	conn
}

func NewSQLite(db *sql.DB) *SQLiteAdapter {
	return &SQLiteAdapter{conn: conn{db: db, dialect: SQLiteDialect{}, raise: raiseSQLiteIdentity}}
}

func (s *SQLiteAdapter) Provider() string { return "sqlite" }

func (s *SQLiteAdapter) FetchSchema(ctx context.Context, tables []string) (*schema.Snapshot, error) {
	var out []schema.Table
	for _, name := range uniqueTables(tables) {
		t, ok, err := s.fetchTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspect %s: %w", name, err)
		}
		if ok {
			out = append(out, t)
		}
	}
	return schema.NewSnapshot(schema.OriginLive, time.Now().UTC(), out...), nil
}

func (s *SQLiteAdapter) fetchTable(ctx context.Context, name string) (schema.Table, bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n); err != nil {
		return schema.Table{}, false, err
	}
	if n == 0 {
		return schema.Table{}, false, nil
	}
	t := schema.Table{Name: name}
	if err := s.fetchColumns(ctx, &t); err != nil {
		return t, false, err
	}
	if err := s.fetchIndexes(ctx, &t); err != nil {
		return t, false, err
	}
	if err := s.fetchForeignKeys(ctx, &t); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (s *SQLiteAdapter) fetchColumns(ctx context.Context, t *schema.Table) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	for rows.Next() {
		var (
			col, colType string
			notNull, pk  int
			def          sql.NullString
		)
		if err := rows.Scan(&col, &colType, &notNull, &def, &pk); err != nil {
			return err
		}
		if pk > 0 {
			pks = append(pks, pkCol{name: col, pos: pk})
		}
		t.Columns = append(t.Columns, schema.Column{
			Name:     col,
			Type:     ParseDeclaredType(colType),
			Nullable: notNull == 0 && pk == 0,
			Default:  ClassifyDefault(def, ParseDeclaredType(colType), false),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, p := range pks {
		t.PrimaryKey = append(t.PrimaryKey, p.name)
	}
	// a lone INTEGER primary key aliases the rowid and is generated
	if len(t.PrimaryKey) == 1 {
		for i := range t.Columns {
			c := &t.Columns[i]
			if c.Name == t.PrimaryKey[0] && strings.EqualFold(c.Type.Raw, "integer") {
				c.AutoIncrement = true
				c.Default = schema.NoDefault()
			}
		}
	}
	return nil
}

func (s *SQLiteAdapter) fetchIndexes(ctx context.Context, t *schema.Table) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT il.name, il."unique", il.origin, ii.name
FROM pragma_index_list(?) AS il
JOIN pragma_index_info(il.name) AS ii
ORDER BY il.name, ii.seqno`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idxName, origin string
			unique          int
			col             sql.NullString
		)
		if err := rows.Scan(&idxName, &unique, &origin, &col); err != nil {
			return err
		}
		last := len(t.Indexes) - 1
		if last >= 0 && t.Indexes[last].Name == idxName {
			t.Indexes[last].Columns = append(t.Indexes[last].Columns, col.String)
			continue
		}
		t.Indexes = append(t.Indexes, schema.Index{
			Name:    idxName,
			Columns: []string{col.String},
			Unique:  unique == 1,
			Primary: origin == "pk",
		})
	}
	return rows.Err()
}

func (s *SQLiteAdapter) fetchForeignKeys(ctx context.Context, t *schema.Table) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT "table", "from", "to", on_delete
FROM pragma_foreign_key_list(?)
ORDER BY id, seq`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			refTable, from, rule string
			to                   sql.NullString
		)
		if err := rows.Scan(&refTable, &from, &to, &rule); err != nil {
			return err
		}
		refCol := to.String
		if !to.Valid || refCol == "" {
			refCol = "id"
		}
		t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKey{
			Name:      t.Name + "_" + from + "_foreign",
			Column:    from,
			RefTable:  refTable,
			RefColumn: refCol,
			OnDelete:  schema.NormalizeDeleteRule(rule),
		})
	}
	return rows.Err()
}

// raiseSQLiteIdentity only concerns AUTOINCREMENT tables; the others hand out
// max(rowid)+1 and cannot collide with explicit ids.
func raiseSQLiteIdentity(ctx context.Context, tx *sql.Tx, table, _ string, next int64) (string, error) {
	var ddl sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&ddl)
	if err != nil {
		return "", err
	}
	if !strings.Contains(strings.ToUpper(ddl.String), "AUTOINCREMENT") {
		return "", nil
	}
	var seq sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM sqlite_sequence WHERE name=?`, table).Scan(&seq)
	if err != nil {
		return "", err
	}
	switch {
	case !seq.Valid:
		_, err = tx.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, table, next-1)
	case seq.Int64 < next-1:
		_, err = tx.ExecContext(ctx, `UPDATE sqlite_sequence SET seq=? WHERE name=?`, next-1, table)
	}
	return "", err
}

// SQLiteDialect renders SQLite DDL. SQLite cannot alter a column or add and
// drop constraints on an existing table; those return ErrUnsupported.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (SQLiteDialect) Placeholder(int) string { return "?" }

func (SQLiteDialect) ColumnType(col schema.Column) string {
	t := col.Type
	switch t.Kind {
	case schema.KindUnsignedInteger, schema.KindInteger, schema.KindSmallUnsignedInteger, schema.KindTinyUnsignedInteger:
		return "INTEGER"
	case schema.KindString:
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	case schema.KindText, schema.KindLongText:
		return "TEXT"
	case schema.KindBoolean:
		return "BOOLEAN"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindDate:
		return "DATE"
	case schema.KindDateTime:
		return "DATETIME"
	case schema.KindDecimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", t.Precision, t.Scale)
	case schema.KindEnum:
		return fmt.Sprintf("VARCHAR(%d)", schema.DefaultStringLength)
	default:
		return t.Raw
	}
}

func (d SQLiteDialect) definition(col schema.Column) string {
	if col.AutoIncrement {
		return d.QuoteIdent(col.Name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	parts := []string{d.QuoteIdent(col.Name), d.ColumnType(col)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default.IsSet() {
		parts = append(parts, "DEFAULT "+renderDefault(col.Default, mysqlBool, quoteLiteral))
	}
	return strings.Join(parts, " ")
}

func (d SQLiteDialect) CreateTable(t schema.Table) ([]string, error) {
	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	auto := false
	for _, c := range t.Columns {
		auto = auto || c.AutoIncrement
		defs = append(defs, "  "+d.definition(c))
	}
	if len(t.PrimaryKey) > 0 && !auto {
		defs = append(defs, "  PRIMARY KEY ("+quoteList(t.PrimaryKey, d.QuoteIdent)+")")
	}
	defs = append(defs, inlineForeignKeys(d.QuoteIdent, t)...)
	stmt := "CREATE TABLE " + d.QuoteIdent(t.Name) + " (\n" + strings.Join(defs, ",\n") + "\n)"
	return append([]string{stmt}, secondaryIndexes(d.QuoteIdent, t)...), nil
}

func (d SQLiteDialect) AddColumn(table string, col schema.Column) ([]string, error) {
	if col.AutoIncrement {
		return nil, fmt.Errorf("add generated column %s.%s: %w", table, col.Name, ErrUnsupported)
	}
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " ADD COLUMN " + d.definition(col)}, nil
}

func (d SQLiteDialect) DropColumn(table, column string) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " DROP COLUMN " + d.QuoteIdent(column)}, nil
}

func (SQLiteDialect) ModifyColumn(table string, col schema.Column) ([]string, error) {
	return nil, fmt.Errorf("modify column %s.%s: %w", table, col.Name, ErrUnsupported)
}

func (SQLiteDialect) AddForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return nil, fmt.Errorf("add foreign key %s on %s: %w", fk.Name, table, ErrUnsupported)
}

func (SQLiteDialect) DropForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return nil, fmt.Errorf("drop foreign key %s on %s: %w", fk.Name, table, ErrUnsupported)
}

func (d SQLiteDialect) AddIndex(table string, idx schema.Index) ([]string, error) {
	return []string{createIndex(d.QuoteIdent, table, idx)}, nil
}

func (d SQLiteDialect) DropIndex(_ string, idx schema.Index) ([]string, error) {
	return []string{"DROP INDEX " + d.QuoteIdent(idx.Name)}, nil
}
