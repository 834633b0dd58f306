package diff

import (
	"fmt"
	"sort"
	"strings"

	"db_schema_reconciler/internal/schema"
)

// Kind classifies a discrepancy between the master and live schema.
type Kind string

const (
	MissingTable           Kind = "missing_table"
	MissingColumn          Kind = "missing_column"
	ExtraColumn            Kind = "extra_column"
	TypeMismatch           Kind = "type_mismatch"
	NullableMismatch       Kind = "nullable_mismatch"
	DefaultMismatch        Kind = "default_mismatch"
	MissingForeignKey      Kind = "missing_foreign_key"
	WrongForeignKeyRule    Kind = "wrong_foreign_key_rule"
	ExtraForeignKey        Kind = "extra_foreign_key"
	MissingIndex           Kind = "missing_index"
	ExtraIndex             Kind = "extra_index"
	MissingReferencedTable Kind = "missing_referenced_table"
)

// Kinds lists every entry kind in report order.
var Kinds = []Kind{
	MissingTable, MissingColumn, ExtraColumn, TypeMismatch, NullableMismatch, DefaultMismatch,
	MissingForeignKey, WrongForeignKeyRule, ExtraForeignKey, MissingIndex, ExtraIndex, MissingReferencedTable,
}

// Entry is one discrepancy. Column is the source column for foreign-key
// entries; Name is the constraint or index name; Master and Live carry the
// compared values when the kind has them.
type Entry struct {
	Kind     Kind   `json:"kind"`
	Table    string `json:"table"`
	Column   string `json:"column,omitempty"`
	Name     string `json:"name,omitempty"`
	RefTable string `json:"ref_table,omitempty"`
	Master   string `json:"master,omitempty"`
	Live     string `json:"live,omitempty"`
}

func (e Entry) String() string {
	target := e.Table
	if e.Column != "" {
		target += "." + e.Column
	}
	switch e.Kind {
	case MissingTable:
		return fmt.Sprintf("%s: table missing in live", e.Table)
	case MissingColumn:
		return fmt.Sprintf("%s: column missing in live (%s)", target, e.Master)
	case ExtraColumn:
		return fmt.Sprintf("%s: column not in master (%s)", target, e.Live)
	case TypeMismatch, NullableMismatch, DefaultMismatch:
		what := strings.TrimSuffix(string(e.Kind), "_mismatch")
		return fmt.Sprintf("%s: %s differs (master %s, live %s)", target, what, e.Master, e.Live)
	case MissingForeignKey:
		return fmt.Sprintf("%s: foreign key %s missing in live (%s)", target, e.Name, e.Master)
	case WrongForeignKeyRule:
		return fmt.Sprintf("%s: foreign key %s to %s has delete rule %s, master wants %s", target, e.Name, e.RefTable, e.Live, e.Master)
	case ExtraForeignKey:
		return fmt.Sprintf("%s: foreign key %s not in master (%s)", target, e.Name, e.Live)
	case MissingIndex:
		return fmt.Sprintf("%s: index %s missing in live (%s)", e.Table, e.Name, e.Master)
	case ExtraIndex:
		return fmt.Sprintf("%s: index %s not in master (%s)", e.Table, e.Name, e.Live)
	case MissingReferencedTable:
		return fmt.Sprintf("%s: foreign key %s references missing table %s", target, e.Name, e.RefTable)
	default:
		return fmt.Sprintf("%s: %s", target, e.Kind)
	}
}

// TypeRenderer renders the declared SQL type of a master column the way the
// live catalog reports it.
type TypeRenderer interface {
	ColumnType(col schema.Column) string
}

// Result is the outcome of one comparison.
type Result struct {
	Tables  []string `json:"tables"`
	Entries []Entry  `json:"entries"`
}

// HasChanges reports whether the diff contains any entry.
func (r Result) HasChanges() bool { return len(r.Entries) > 0 }

func (r Result) Count() int { return len(r.Entries) }

// ByKind counts entries per kind.
func (r Result) ByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, e := range r.Entries {
		out[e.Kind]++
	}
	return out
}

// ForTable returns the entries of one table in emission order.
func (r Result) ForTable(table string) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Table == table {
			out = append(out, e)
		}
	}
	return out
}

// ChangedTables returns the sorted set of tables that have at least one entry.
func (r Result) ChangedTables() []string {
	seen := make(map[string]struct{})
	for _, e := range r.Entries {
		seen[e.Table] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Filter returns the entries of the given kind.
func (r Result) Filter(kind Kind) []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Describe returns a human-readable summary of differences.
func (r Result) Describe() string {
	if !r.HasChanges() {
		return "schemas match"
	}
	lines := make([]string, 0, len(r.Entries)+1)
	counts := r.ByKind()
	var summary []string
	for _, k := range Kinds {
		if n := counts[k]; n > 0 {
			summary = append(summary, fmt.Sprintf("%s=%d", k, n))
		}
	}
	lines = append(lines, fmt.Sprintf("%d difference(s): %s", len(r.Entries), strings.Join(summary, " ")))
	for _, e := range r.Entries {
		lines = append(lines, "  "+e.String())
	}
	return strings.Join(lines, "\n")
}

// Compare diffs the requested master tables against live. Tables not in
// master are ignored; an empty list compares every master table. types may
// be nil, in which case logical types are compared.
func Compare(master, live *schema.Snapshot, tables []string, types TypeRenderer) Result {
	if len(tables) == 0 {
		tables = master.Names()
	}
	c := comparer{master: master, live: live, types: types, compared: make(map[string]bool)}
	res := Result{}
	for _, name := range tables {
		if c.compared[name] || !master.Has(name) {
			continue
		}
		c.compared[name] = true
		res.Tables = append(res.Tables, name)
	}
	for _, name := range res.Tables {
		res.Entries = append(res.Entries, c.table(name)...)
	}
	return res
}

type comparer struct {
	master, live *schema.Snapshot
	types        TypeRenderer
	compared     map[string]bool
}

func (c comparer) table(name string) []Entry {
	m, _ := c.master.Table(name)
	l, ok := c.live.Table(name)
	if !ok {
		return []Entry{{Kind: MissingTable, Table: name}}
	}
	var out []Entry
	out = append(out, c.columns(m, l)...)
	out = append(out, c.foreignKeys(m, l)...)
	out = append(out, indexes(m, l)...)
	return out
}

func (c comparer) columns(m, l schema.Table) []Entry {
	var out []Entry
	for _, mc := range m.Columns {
		lc, ok := l.Column(mc.Name)
		if !ok {
			out = append(out, Entry{Kind: MissingColumn, Table: m.Name, Column: mc.Name, Master: c.describeColumn(mc)})
			continue
		}
		if mt, lt := c.typeOf(mc), c.typeOf(lc); mt != lt {
			out = append(out, Entry{Kind: TypeMismatch, Table: m.Name, Column: mc.Name, Master: mt, Live: lt})
		}
		if mc.Nullable != lc.Nullable {
			out = append(out, Entry{Kind: NullableMismatch, Table: m.Name, Column: mc.Name, Master: nullability(mc.Nullable), Live: nullability(lc.Nullable)})
		}
		if md, ld := NormalizeDefault(mc.Default), NormalizeDefault(lc.Default); md != ld {
			out = append(out, Entry{Kind: DefaultMismatch, Table: m.Name, Column: mc.Name, Master: mc.Default.String(), Live: lc.Default.String()})
		}
	}
	for _, lc := range l.Columns {
		if !m.HasColumn(lc.Name) {
			out = append(out, Entry{Kind: ExtraColumn, Table: m.Name, Column: lc.Name, Live: c.describeColumn(lc)})
		}
	}
	return out
}

func (c comparer) foreignKeys(m, l schema.Table) []Entry {
	var out []Entry
	matched := make([]bool, len(l.ForeignKeys))
	for _, mfk := range m.ForeignKeys {
		if !c.master.Has(mfk.RefTable) {
			out = append(out, Entry{Kind: MissingReferencedTable, Table: m.Name, Column: mfk.Column, Name: mfk.Name, RefTable: mfk.RefTable, Master: mfk.Describe(m.Name)})
		}
		idx := -1
		for i, lfk := range l.ForeignKeys {
			if !matched[i] && lfk.Column == mfk.Column && strings.EqualFold(lfk.RefTable, mfk.RefTable) {
				idx = i
				break
			}
		}
		if idx < 0 {
			if c.master.Has(mfk.RefTable) {
				out = append(out, Entry{Kind: MissingForeignKey, Table: m.Name, Column: mfk.Column, Name: mfk.Name, RefTable: mfk.RefTable, Master: mfk.Describe(m.Name)})
			}
			continue
		}
		matched[idx] = true
		lfk := l.ForeignKeys[idx]
		if schema.NormalizeDeleteRule(string(mfk.OnDelete)) != schema.NormalizeDeleteRule(string(lfk.OnDelete)) {
			out = append(out, Entry{Kind: WrongForeignKeyRule, Table: m.Name, Column: mfk.Column, Name: lfk.Name, RefTable: mfk.RefTable, Master: string(mfk.OnDelete), Live: string(lfk.OnDelete)})
		}
	}
	for i, lfk := range l.ForeignKeys {
		if matched[i] {
			continue
		}
		out = append(out, Entry{Kind: ExtraForeignKey, Table: m.Name, Column: lfk.Column, Name: lfk.Name, RefTable: lfk.RefTable, Live: lfk.Describe(l.Name)})
		if c.compared[lfk.RefTable] && !c.live.Has(lfk.RefTable) {
			out = append(out, Entry{Kind: MissingReferencedTable, Table: m.Name, Column: lfk.Column, Name: lfk.Name, RefTable: lfk.RefTable, Live: lfk.Describe(l.Name)})
		}
	}
	return out
}

// indexes matches by name first, then by identical columns and uniqueness.
// Primary indexes and the implicit indexes some engines create to back a
// foreign key are never reported as extra.
func indexes(m, l schema.Table) []Entry {
	var out []Entry
	matched := make([]bool, len(l.Indexes))
	match := func(mi schema.Index) bool {
		for i, li := range l.Indexes {
			if !matched[i] && strings.EqualFold(li.Name, mi.Name) {
				matched[i] = true
				return true
			}
		}
		for i, li := range l.Indexes {
			if !matched[i] && !li.Primary && li.Unique == mi.Unique && li.SameColumns(mi) {
				matched[i] = true
				return true
			}
		}
		return false
	}
	for _, mi := range m.Indexes {
		if mi.Primary {
			continue
		}
		if !match(mi) {
			out = append(out, Entry{Kind: MissingIndex, Table: m.Name, Name: mi.Name, Master: describeIndex(mi)})
		}
	}
	for i, li := range l.Indexes {
		if matched[i] || li.Primary || backsForeignKey(l, li) {
			continue
		}
		out = append(out, Entry{Kind: ExtraIndex, Table: m.Name, Name: li.Name, Live: describeIndex(li)})
	}
	return out
}

func backsForeignKey(t schema.Table, idx schema.Index) bool {
	if idx.Unique || len(idx.Columns) != 1 {
		return false
	}
	for _, fk := range t.ForeignKeys {
		if fk.Column == idx.Columns[0] && strings.EqualFold(fk.Name, idx.Name) {
			return true
		}
	}
	return false
}

func (c comparer) typeOf(col schema.Column) string {
	if c.types == nil {
		if col.Type.Kind == schema.KindOther {
			return NormalizeType(col.Type.Raw)
		}
		return NormalizeType(string(col.Type.Kind))
	}
	if col.Type.Raw != "" {
		return NormalizeType(col.Type.Raw)
	}
	return NormalizeType(c.types.ColumnType(col))
}

func (c comparer) describeColumn(col schema.Column) string {
	typ := col.Type.String()
	if c.types != nil && col.Type.Raw == "" {
		typ = c.types.ColumnType(col)
	} else if col.Type.Raw != "" {
		typ = col.Type.Raw
	}
	parts := []string{typ, nullability(col.Nullable)}
	if col.Default.IsSet() {
		parts = append(parts, "DEFAULT "+col.Default.String())
	}
	if col.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	return strings.Join(parts, " ")
}

func describeIndex(idx schema.Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE"
	}
	return fmt.Sprintf("%s (%s)", kind, strings.Join(idx.Columns, ", "))
}

func nullability(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}
