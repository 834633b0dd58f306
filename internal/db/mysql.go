package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"db_schema_reconciler/internal/schema"
)

type MySQLAdapter struct {
	conn
	schemaName string
}

// NewMySQL wraps an open MySQL handle. An empty schemaName resolves to
// DATABASE() at introspection time.
func NewMySQL(db *sql.DB, schemaName string) *MySQLAdapter {
	return &MySQLAdapter{conn: conn{db: db, dialect: MySQLDialect{}, raise: raiseMySQLIdentity}, schemaName: strings.TrimSpace(schemaName)}
}

func (m *MySQLAdapter) Provider() string { return "mysql" }

func (m *MySQLAdapter) FetchSchema(ctx context.Context, tables []string) (*schema.Snapshot, error) {
	schemaName := m.schemaName
	if schemaName == "" {
		if err := m.db.QueryRowContext(ctx, `SELECT DATABASE()`).Scan(&schemaName); err != nil {
			return nil, err
		}
	}
	var out []schema.Table
	for _, name := range uniqueTables(tables) {
		t, ok, err := m.fetchTable(ctx, schemaName, name)
		if err != nil {
			return nil, fmt.Errorf("introspect %s: %w", name, err)
		}
		if ok {
			out = append(out, t)
		}
	}
	return schema.NewSnapshot(schema.OriginLive, time.Now().UTC(), out...), nil
}

func (m *MySQLAdapter) fetchTable(ctx context.Context, schemaName, name string) (schema.Table, bool, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema=? AND table_name=? AND table_type='BASE TABLE'`, schemaName, name).Scan(&n); err != nil {
		return schema.Table{}, false, err
	}
	if n == 0 {
		return schema.Table{}, false, nil
	}
	t := schema.Table{Name: name}

	colsRows, err := m.db.QueryContext(ctx, `
SELECT column_name, column_type, is_nullable, column_default, extra
FROM information_schema.columns
WHERE table_schema=? AND table_name=?
ORDER BY ordinal_position`, schemaName, name)
	if err != nil {
		return t, false, err
	}
	defer colsRows.Close()
	for colsRows.Next() {
		var col, colType, nullable, extra string
		var def sql.NullString
		if err := colsRows.Scan(&col, &colType, &nullable, &def, &extra); err != nil {
			return t, false, err
		}
		typ := ParseDeclaredType(colType)
		auto := strings.Contains(strings.ToLower(extra), "auto_increment")
		d := classifyMySQLDefault(def, typ, auto, strings.Contains(strings.ToUpper(extra), "DEFAULT_GENERATED"))
		t.Columns = append(t.Columns, schema.Column{
			Name:          col,
			Type:          typ,
			Nullable:      strings.EqualFold(nullable, "YES"),
			Default:       d,
			AutoIncrement: auto,
		})
	}
	if err := colsRows.Err(); err != nil {
		return t, false, err
	}

	idxRows, err := m.db.QueryContext(ctx, `
SELECT index_name, MIN(non_unique), GROUP_CONCAT(column_name ORDER BY seq_in_index SEPARATOR ',')
FROM information_schema.statistics
WHERE table_schema=? AND table_name=?
GROUP BY index_name
ORDER BY index_name`, schemaName, name)
	if err != nil {
		return t, false, err
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var idxName, cols string
		var nonUnique int
		if err := idxRows.Scan(&idxName, &nonUnique, &cols); err != nil {
			return t, false, err
		}
		idx := schema.Index{Name: idxName, Columns: strings.Split(cols, ","), Unique: nonUnique == 0, Primary: idxName == "PRIMARY"}
		if idx.Primary {
			t.PrimaryKey = append([]string(nil), idx.Columns...)
		}
		t.Indexes = append(t.Indexes, idx)
	}
	if err := idxRows.Err(); err != nil {
		return t, false, err
	}

	fkRows, err := m.db.QueryContext(ctx, `
SELECT kcu.constraint_name, kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name, rc.delete_rule
FROM information_schema.key_column_usage kcu
JOIN information_schema.referential_constraints rc
  ON rc.constraint_schema = kcu.constraint_schema
 AND rc.constraint_name = kcu.constraint_name
 AND rc.table_name = kcu.table_name
WHERE kcu.table_schema=? AND kcu.table_name=? AND kcu.referenced_table_name IS NOT NULL
ORDER BY kcu.constraint_name, kcu.ordinal_position`, schemaName, name)
	if err != nil {
		return t, false, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk schema.ForeignKey
		var rule string
		if err := fkRows.Scan(&fk.Name, &fk.Column, &fk.RefTable, &fk.RefColumn, &rule); err != nil {
			return t, false, err
		}
		fk.OnDelete = schema.NormalizeDeleteRule(rule)
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return t, true, fkRows.Err()
}

// raiseMySQLIdentity never alters inside the transaction: ALTER TABLE would
// commit implicitly. When the counter is behind, the ALTER is returned to run
// after commit. InnoDB already moves the counter past explicit inserts.
func raiseMySQLIdentity(ctx context.Context, tx *sql.Tx, table, _ string, next int64) (string, error) {
	var current sql.NullInt64
	err := tx.QueryRowContext(ctx, `
SELECT auto_increment
FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_name = ?`, table).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if current.Valid && current.Int64 >= next {
		return "", nil
	}
	return fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = %d", MySQLDialect{}.QuoteIdent(table), next), nil
}

// MySQLDialect renders MySQL/MariaDB DDL.
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (MySQLDialect) Placeholder(int) string { return "?" }

func (MySQLDialect) ColumnType(col schema.Column) string {
	t := col.Type
	switch t.Kind {
	case schema.KindUnsignedInteger:
		return "int unsigned"
	case schema.KindInteger:
		return "int"
	case schema.KindSmallUnsignedInteger:
		return "smallint unsigned"
	case schema.KindTinyUnsignedInteger:
		return "tinyint unsigned"
	case schema.KindString:
		return fmt.Sprintf("varchar(%d)", t.Length)
	case schema.KindText:
		return "text"
	case schema.KindLongText:
		return "longtext"
	case schema.KindBoolean:
		return "tinyint(1)"
	case schema.KindTimestamp:
		return "timestamp"
	case schema.KindDate:
		return "date"
	case schema.KindDateTime:
		return "datetime"
	case schema.KindDecimal:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case schema.KindEnum:
		return "enum(" + schema.QuoteValues(t.Values) + ")"
	default:
		return t.Raw
	}
}

func (d MySQLDialect) definition(col schema.Column) string {
	parts := []string{d.QuoteIdent(col.Name), d.ColumnType(col)}
	if col.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if col.Default.IsSet() && !col.AutoIncrement {
		parts = append(parts, "DEFAULT "+renderDefault(col.Default, mysqlBool, mysqlLiteral))
	}
	if col.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	return strings.Join(parts, " ")
}

func mysqlBool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func mysqlLiteral(s string) string {
	return quoteLiteral(strings.ReplaceAll(s, `\`, `\\`))
}

func (d MySQLDialect) CreateTable(t schema.Table) ([]string, error) {
	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		defs = append(defs, "  "+d.definition(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "  PRIMARY KEY ("+quoteList(t.PrimaryKey, d.QuoteIdent)+")")
	}
	defs = append(defs, inlineForeignKeys(d.QuoteIdent, t)...)
	stmt := "CREATE TABLE " + d.QuoteIdent(t.Name) + " (\n" + strings.Join(defs, ",\n") + "\n) ENGINE=InnoDB"
	return append([]string{stmt}, secondaryIndexes(d.QuoteIdent, t)...), nil
}

func (d MySQLDialect) AddColumn(table string, col schema.Column) ([]string, error) {
	stmt := "ALTER TABLE " + d.QuoteIdent(table) + " ADD COLUMN " + d.definition(col)
	if col.AutoIncrement {
		stmt += " PRIMARY KEY"
	}
	return []string{stmt}, nil
}

func (d MySQLDialect) DropColumn(table, column string) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " DROP COLUMN " + d.QuoteIdent(column)}, nil
}

func (d MySQLDialect) ModifyColumn(table string, col schema.Column) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " MODIFY COLUMN " + d.definition(col)}, nil
}

func (d MySQLDialect) AddForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return []string{addForeignKey(d.QuoteIdent, table, fk)}, nil
}

func (d MySQLDialect) DropForeignKey(table string, fk schema.ForeignKey) ([]string, error) {
	return []string{"ALTER TABLE " + d.QuoteIdent(table) + " DROP FOREIGN KEY " + d.QuoteIdent(fk.Name)}, nil
}

func (d MySQLDialect) AddIndex(table string, idx schema.Index) ([]string, error) {
	return []string{createIndex(d.QuoteIdent, table, idx)}, nil
}

func (d MySQLDialect) DropIndex(table string, idx schema.Index) ([]string, error) {
	return []string{"DROP INDEX " + d.QuoteIdent(idx.Name) + " ON " + d.QuoteIdent(table)}, nil
}
