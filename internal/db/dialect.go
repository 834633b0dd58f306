package db

import (
	"errors"
	"strings"

	"db_schema_reconciler/internal/schema"
)

// ErrUnsupported is returned by a dialect for DDL the engine cannot express
// on that provider.
var ErrUnsupported = errors.New("not supported by this database")

// Dialect renders corrective DDL. Each method returns the statements to run
// in order.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	Placeholder(n int) string
	// ColumnType renders the declared type the provider's catalog reports for
	// a column of that logical type.
	ColumnType(col schema.Column) string
	// CreateTable declares the columns, the primary key and the foreign keys
	// of t, followed by its secondary indexes.
	CreateTable(t schema.Table) ([]string, error)
	AddColumn(table string, col schema.Column) ([]string, error)
	DropColumn(table, column string) ([]string, error)
	// ModifyColumn restates the full definition: type, nullability, default
	// and the auto-generated flag.
	ModifyColumn(table string, col schema.Column) ([]string, error)
	AddForeignKey(table string, fk schema.ForeignKey) ([]string, error)
	DropForeignKey(table string, fk schema.ForeignKey) ([]string, error)
	AddIndex(table string, idx schema.Index) ([]string, error)
	DropIndex(table string, idx schema.Index) ([]string, error)
}

func quoteWith(name, quote string) string {
	return quote + strings.ReplaceAll(name, quote, quote+quote) + quote
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteList(names []string, q func(string) string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = q(n)
	}
	return strings.Join(quoted, ", ")
}

// renderDefault renders a default literal. boolean renders DefaultBool for
// the column at hand, literal quotes strings.
func renderDefault(d schema.Default, boolean func(v bool) string, literal func(string) string) string {
	switch d.Kind {
	case schema.DefaultBool:
		return boolean(d.Value == "1")
	case schema.DefaultNumber, schema.DefaultExpression:
		return d.Value
	case schema.DefaultString:
		return literal(d.Value)
	default:
		return "NULL"
	}
}

func onDelete(rule schema.DeleteRule) string {
	if rule == "" {
		return string(schema.RuleRestrict)
	}
	return string(rule)
}

func addForeignKey(q func(string) string, table string, fk schema.ForeignKey) string {
	return "ALTER TABLE " + q(table) + " ADD CONSTRAINT " + q(fk.Name) +
		" FOREIGN KEY (" + q(fk.Column) + ") REFERENCES " + q(fk.RefTable) + " (" + q(fk.RefColumn) + ")" +
		" ON DELETE " + onDelete(fk.OnDelete)
}

// inlineForeignKeys renders the constraint clauses of a CREATE TABLE.
func inlineForeignKeys(q func(string) string, t schema.Table) []string {
	out := make([]string, 0, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		out = append(out, "  CONSTRAINT "+q(fk.Name)+" FOREIGN KEY ("+q(fk.Column)+") REFERENCES "+
			q(fk.RefTable)+" ("+q(fk.RefColumn)+") ON DELETE "+onDelete(fk.OnDelete))
	}
	return out
}

func createIndex(q func(string) string, table string, idx schema.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return "CREATE " + kind + " " + q(idx.Name) + " ON " + q(table) + " (" + quoteList(idx.Columns, q) + ")"
}

func secondaryIndexes(q func(string) string, t schema.Table) []string {
	var out []string
	for _, idx := range t.Indexes {
		if idx.Primary {
			continue
		}
		out = append(out, createIndex(q, t.Name, idx))
	}
	return out
}
