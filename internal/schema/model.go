// Package schema holds the canonical in-memory representation of tables shared
// by the master extractor, the live introspector, the differ and the
// synthesizer.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Origin tags where a snapshot was produced.
type Origin string

const (
	OriginMaster Origin = "master"
	OriginLive   Origin = "live"
)

// Table describes a table with its ordered columns, keys and indexes.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column describes a table column.
type Column struct {
	Name          string
	Type          Type
	Nullable      bool
	Default       Default
	AutoIncrement bool
}

// ForeignKey describes a single-column reference to another table.
type ForeignKey struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  DeleteRule
}

// Index describes a secondary or primary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// Reference is a foreign key together with the table that owns it.
type Reference struct {
	Table      string
	ForeignKey ForeignKey
}

func (fk ForeignKey) Describe(table string) string {
	return fmt.Sprintf("%s.%s -> %s.%s ON DELETE %s", table, fk.Column, fk.RefTable, fk.RefColumn, fk.OnDelete)
}

// SameColumns reports whether two indexes cover the same ordered columns.
func (i Index) SameColumns(o Index) bool {
	if len(i.Columns) != len(o.Columns) {
		return false
	}
	for n := range i.Columns {
		if !strings.EqualFold(i.Columns[n], o.Columns[n]) {
			return false
		}
	}
	return true
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ForeignKeysOn returns the foreign keys whose source column is col.
func (t Table) ForeignKeysOn(col string) []ForeignKey {
	var out []ForeignKey
	for _, fk := range t.ForeignKeys {
		if fk.Column == col {
			out = append(out, fk)
		}
	}
	return out
}

// Index returns the named index.
func (t Table) Index(name string) (Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// IdentifierColumn is the single primary-key column, or "id" when the key
// is absent or composite.
func (t Table) IdentifierColumn() string {
	if len(t.PrimaryKey) == 1 {
		return t.PrimaryKey[0]
	}
	return "id"
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := Table{
		Name:        t.Name,
		Columns:     make([]Column, len(t.Columns)),
		PrimaryKey:  append([]string(nil), t.PrimaryKey...),
		ForeignKeys: append([]ForeignKey(nil), t.ForeignKeys...),
		Indexes:     make([]Index, len(t.Indexes)),
	}
	for i, c := range t.Columns {
		c.Type.Values = append([]string(nil), c.Type.Values...)
		out.Columns[i] = c
	}
	for i, idx := range t.Indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.Indexes[i] = idx
	}
	return out
}

// Validate checks the structural invariants of a table: referenced columns
// exist and at most one auto-generated identifier exists, which must be the
// primary key.
func (t Table) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(t.Columns))
	var autoCols []string
	for _, c := range t.Columns {
		if _, dup := seen[c.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate column %s", c.Name))
		}
		seen[c.Name] = struct{}{}
		if c.AutoIncrement {
			autoCols = append(autoCols, c.Name)
		}
	}
	for _, col := range t.PrimaryKey {
		if _, ok := seen[col]; !ok {
			errs = append(errs, fmt.Errorf("primary key column %s does not exist", col))
		}
	}
	for _, fk := range t.ForeignKeys {
		if _, ok := seen[fk.Column]; !ok {
			errs = append(errs, fmt.Errorf("foreign key %s: column %s does not exist", fk.Name, fk.Column))
		}
	}
	for _, idx := range t.Indexes {
		for _, col := range idx.Columns {
			if _, ok := seen[col]; !ok {
				errs = append(errs, fmt.Errorf("index %s: column %s does not exist", idx.Name, col))
			}
		}
	}
	if len(autoCols) > 1 {
		errs = append(errs, fmt.Errorf("more than one auto-generated identifier: %s", strings.Join(autoCols, ", ")))
	}
	if len(autoCols) == 1 && (len(t.PrimaryKey) != 1 || t.PrimaryKey[0] != autoCols[0]) {
		errs = append(errs, fmt.Errorf("auto-generated identifier %s is not the primary key", autoCols[0]))
	}
	if len(errs) > 0 {
		return fmt.Errorf("table %s: %w", t.Name, errors.Join(errs...))
	}
	return nil
}

// Snapshot is an immutable set of tables tagged with its origin.
type Snapshot struct {
	origin  Origin
	takenAt time.Time
	tables  map[string]Table
}

// NewSnapshot copies the given tables into a new snapshot. A later table with
// the same name replaces an earlier one.
func NewSnapshot(origin Origin, takenAt time.Time, tables ...Table) *Snapshot {
	s := &Snapshot{origin: origin, takenAt: takenAt, tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		s.tables[t.Name] = t.Clone()
	}
	return s
}

func (s *Snapshot) Origin() Origin { return s.origin }

func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

func (s *Snapshot) Len() int { return len(s.tables) }

// Table returns a copy of the named table.
func (s *Snapshot) Table(name string) (Table, bool) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, false
	}
	return t.Clone(), true
}

func (s *Snapshot) Has(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Names returns the table names in lexical order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns copies of all tables in lexical order.
func (s *Snapshot) Tables() []Table {
	out := make([]Table, 0, len(s.tables))
	for _, name := range s.Names() {
		out = append(out, s.tables[name].Clone())
	}
	return out
}

// Subset returns a snapshot restricted to the named tables; unknown names are
// ignored.
func (s *Snapshot) Subset(names []string) *Snapshot {
	var tables []Table
	for _, name := range names {
		if t, ok := s.tables[name]; ok {
			tables = append(tables, t)
		}
	}
	return NewSnapshot(s.origin, s.takenAt, tables...)
}

// ReferencesTo lists the foreign keys of other tables (and self references)
// that point at table, ordered by owning table then constraint name.
func (s *Snapshot) ReferencesTo(table string) []Reference {
	var out []Reference
	for _, name := range s.Names() {
		for _, fk := range s.tables[name].ForeignKeys {
			if fk.RefTable == table {
				out = append(out, Reference{Table: name, ForeignKey: fk})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].ForeignKey.Name < out[j].ForeignKey.Name
	})
	return out
}

// Validate runs Table.Validate for every table.
func (s *Snapshot) Validate() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.tables[name].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
