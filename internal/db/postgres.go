package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"db_schema_reconciler/internal/schema"
)

type PostgresAdapter struct {
	conn
	schemaName string
}

// NewPostgres wraps an open pgx handle; schemaName defaults to public.
func NewPostgres(db *sql.DB, schemaName string) *PostgresAdapter {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		schemaName = "public"
	}
	p := &PostgresAdapter{conn: conn{db: db, dialect: PostgresDialect{}}, schemaName: schemaName}
	p.raise = p.raiseIdentity
	return p
}

func (p *PostgresAdapter) Provider() string { return "postgres" }

func (p *PostgresAdapter) FetchSchema(ctx context.Context, tables []string) (*schema.Snapshot, error) {
	var out []schema.Table
	for _, name := range uniqueTables(tables) {
		t, ok, err := p.fetchTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspect %s: %w", name, err)
		}
		if ok {
			out = append(out, t)
		}
	}
	return schema.NewSnapshot(schema.OriginLive, time.Now().UTC(), out...), nil
}

func (p *PostgresAdapter) fetchTable(ctx context.Context, name string) (schema.Table, bool, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema=$1 AND table_name=$2 AND table_type='BASE TABLE'`, p.schemaName, name).Scan(&n); err != nil {
		return schema.Table{}, false, err
	}
	if n == 0 {
		return schema.Table{}, false, nil
	}
	t := schema.Table{Name: name}
	if err := p.fetchColumns(ctx, &t); err != nil {
		return t, false, err
	}
	if err := p.fetchIndexes(ctx, &t); err != nil {
		return t, false, err
	}
	if err := p.fetchForeignKeys(ctx, &t); err != nil {
		return t, false, err
	}
	return t, true, nil
}

func (p *PostgresAdapter) fetchColumns(ctx context.Context, t *schema.Table) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull,
       pg_catalog.pg_get_expr(d.adbin, d.adrelid),
       a.attidentity <> ''
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, p.schemaName, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			col, colType    string
			nullable, ident bool
			def             sql.NullString
		)
		if err := rows.Scan(&col, &colType, &nullable, &def, &ident); err != nil {
			return err
		}
		typ := ParseDeclaredType(colType)
		auto := ident || (def.Valid && strings.HasPrefix(strings.ToLower(def.String), "nextval("))
		t.Columns = append(t.Columns, schema.Column{
			Name:          col,
			Type:          typ,
			Nullable:      nullable,
			Default:       ClassifyDefault(def, typ, auto),
			AutoIncrement: auto,
		})
	}
	return rows.Err()
}

func (p *PostgresAdapter) fetchIndexes(ctx context.Context, t *schema.Table) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT i.relname, ix.indisunique, ix.indisprimary, a.attname
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class tc ON tc.oid = ix.indrelid
JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
JOIN pg_catalog.pg_namespace n ON n.oid = tc.relnamespace
CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_catalog.pg_attribute a ON a.attrelid = tc.oid AND a.attnum = k.attnum
WHERE n.nspname = $1 AND tc.relname = $2
ORDER BY i.relname, k.ord`, p.schemaName, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idxName, col    string
			unique, primary bool
		)
		if err := rows.Scan(&idxName, &unique, &primary, &col); err != nil {
			return err
		}
		last := len(t.Indexes) - 1
		if last >= 0 && t.Indexes[last].Name == idxName {
			t.Indexes[last].Columns = append(t.Indexes[last].Columns, col)
			continue
		}
		t.Indexes = append(t.Indexes, schema.Index{Name: idxName, Columns: []string{col}, Unique: unique, Primary: primary})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, idx := range t.Indexes {
		if idx.Primary {
			t.PrimaryKey = append([]string(nil), idx.Columns...)
		}
	}
	return nil
}

func (p *PostgresAdapter) fetchForeignKeys(ctx context.Context, t *schema.Table) error {
	rows, err := p.db.QueryContext(ctx, `
SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name, rc.delete_rule
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = tc.constraint_schema
 AND kcu.constraint_name = tc.constraint_name
JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = tc.constraint_schema
 AND rc.constraint_name = tc.constraint_name
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_schema = tc.constraint_schema
 AND ccu.constraint_name = tc.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY tc.constraint_name, kcu.ordinal_position`, p.schemaName, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fk schema.ForeignKey
		var rule string
		if err := rows.Scan(&fk.Name, &fk.Column, &fk.RefTable, &fk.RefColumn, &rule); err != nil {
			return err
		}
		fk.OnDelete = schema.NormalizeDeleteRule(rule)
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return rows.Err()
}

// raiseIdentity moves the sequence behind column forward. setval is not
// rolled back with the transaction; it only ever moves forward.
func (p *PostgresAdapter) raiseIdentity(ctx context.Context, tx *sql.Tx, table, column string, next int64) (string, error) {
	d := PostgresDialect{}
	qualified := d.QuoteIdent(p.schemaName) + "." + d.QuoteIdent(table)
	var seq sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT pg_get_serial_sequence($1, $2)`, qualified, column).Scan(&seq); err != nil {
		return "", err
	}
	if !seq.Valid {
		return "", nil
	}
	var (
		last   int64
		called bool
	)
	if err := tx.QueryRowContext(ctx, `SELECT last_value, is_called FROM `+seq.String).Scan(&last, &called); err != nil {
		return "", err
	}
	upcoming := last
	if called {
		upcoming = last + 1
	}
	if upcoming >= next {
		return "", nil
	}
	_, err := tx.ExecContext(ctx, `SELECT setval($1::regclass, $2, false)`, seq.String, next)
	return "", err
}

// PostgresDialect renders PostgreSQL DDL.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (PostgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgresDialect) ColumnType(col schema.Column) string {
	t := col.Type
	switch t.Kind {
	case schema.KindUnsignedInteger, schema.KindInteger:
		return "integer"
	case schema.KindSmallUnsignedInteger, schema.KindTinyUnsignedInteger:
		return "smallint"
	case schema.KindString:
		return fmt.Sprintf("character varying(%d)", t.Length)
	case schema.KindText, schema.KindLongText:
		return "text"
	case schema.KindBoolean:
		return "boolean"
	case schema.KindTimestamp, schema.KindDateTime:
		return "timestamp without time zone"
	case schema.KindDate:
		return "date"
	case schema.KindDecimal:
		return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
	case schema.KindEnum:
		// no native enum without a CREATE TYPE; values are checked by the application
		return fmt.Sprintf("character varying(%d)", schema.DefaultStringLength)
	default:
		return t.Raw
	}
}

func pgBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (d PostgresDialect) defaultLiteral(col schema.Column) string {
	if col.Type.Kind != schema.KindBoolean && col.Default.Kind == schema.DefaultBool {
		return col.Default.Value
	}
	return renderDefault(col.Default, pgBool, quoteLiteral)
}

func (d PostgresDialect) definition(col schema.Column) string {
	parts := []string{d.QuoteIdent(col.Name), d.ColumnType(col)}
	if col.AutoIncrement {
		parts = append(parts, "GENERATED BY DEFAULT AS IDENTITY")
	}
	if col.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if col.Default.IsSet() && !col.AutoIncrement {
		parts = append(parts, "DEFAULT "+d.defaultLiteral(col))
	}
	return strings.Join(parts, " ")
}

func (d PostgresDialect) CreateTable(t schema.Table) ([]string, error) {
	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		defs = append(defs, "  "+d.definition(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "  PRIMARY KEY ("+quoteList(t.PrimaryKey, d.QuoteIdent)+")")
	}
	defs = append(defs, inlineForeignKeys(d.QuoteIdent, t)...)
	stmt := "CREATE TABLE " + d.QuoteIdent(t.Name) + " (\n" + strings.Join(defs, ",\n") + "\n)"
	return append([]string{stmt}, secondaryIndexes(d.QuoteIdent, t)...), nil
}

func (d PostgresDialect) AddColumn(table string, col schema.Column) ([]string, error) {
	stmt := "ALTER TABLE " + d.QuoteIdent(table) + " ADD COLUMN " + d.definition(col)
	if col.AutoIncrement {
		stmt += " PRIMARY KEY"
	}
	return []string{stmt}, nil
}

func (d PostgresDialect) DropColumn(table, column string) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " DROP COLUMN " + d.QuoteIdent(column)}, nil
}

// ModifyColumn restates type, nullability and default in one statement.
// An identity survives ALTER TYPE, so it is not restated.
func (d PostgresDialect) ModifyColumn(table string, col schema.Column) ([]string, error) {
	c := d.QuoteIdent(col.Name)
	typ := d.ColumnType(col)
	clauses := []string{"ALTER COLUMN " + c + " TYPE " + typ + " USING " + c + "::" + typ}
	if col.Nullable {
		clauses = append(clauses, "ALTER COLUMN "+c+" DROP NOT NULL")
	} else {
		clauses = append(clauses, "ALTER COLUMN "+c+" SET NOT NULL")
	}
	if col.Default.IsSet() && !col.AutoIncrement {
		clauses = append(clauses, "ALTER COLUMN "+c+" SET DEFAULT "+d.defaultLiteral(col))
	} else if !col.AutoIncrement {
		clauses = append(clauses, "ALTER COLUMN "+c+" DROP DEFAULT")
	}
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " " + strings.Join(clauses, ", ")}, nil
}

func (d PostgresDialect) AddForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return []string{addForeignKey(d.QuoteIdent, table, fk)}, nil
}

func (d PostgresDialect) DropForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " DROP CONSTRAINT " + d.QuoteIdent(fk.Name)}, nil
}

func (d PostgresDialect) AddIndex(table string, idx schema.Index) ([]string, error) {
	return []string{createIndex(d.QuoteIdent, table, idx)}, nil
}

func (d PostgresDialect) DropIndex(_ string, idx schema.Index) ([]string, error) {
	return []string{"DROP INDEX " + d.QuoteIdent(idx.Name)}, nil
}
