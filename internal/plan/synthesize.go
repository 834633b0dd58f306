package plan

import (
	"context"
	"fmt"
	"strings"

	"db_schema_reconciler/internal/depgraph"
	"db_schema_reconciler/internal/diff"
	"db_schema_reconciler/internal/schema"
)

// OrphanCounter counts rows of table whose fk.Column has no match in the
// referenced table.
type OrphanCounter interface {
	CountOrphans(ctx context.Context, table string, fk schema.ForeignKey) (int64, error)
}

// Input is everything the synthesizer needs for one plan.
type Input struct {
	Diff   diff.Result
	Master *schema.Snapshot
	Live   *schema.Snapshot
	// Order is the dependency order of Diff.Tables. It is computed from
	// Master when nil.
	Order []string
	// Orphans checks new foreign keys at synthesis time. When nil, or when
	// the check cannot run yet, the action is guarded at apply time.
	Orphans OrphanCounter
}

// Synthesize builds the corrective plan. Tables are visited in dependency
// order; per table the actions are: drop extra columns (and the foreign keys
// on them), add missing columns, alter mismatched columns, fix foreign keys,
// fix indexes. A dependency cycle is fatal.
func Synthesize(ctx context.Context, in Input) (*Plan, error) {
	order := in.Order
	if order == nil {
		var err error
		order, err = depgraph.FromSnapshot(in.Master, in.Diff.Tables).Order()
		if err != nil {
			return nil, fmt.Errorf("order tables: %w", err)
		}
	}
	s := &synth{
		in:       in,
		position: make(map[string]int, len(order)),
		created:  make(map[string]bool),
		added:    make(map[string]bool),
		compared: make(map[string]bool, len(in.Diff.Tables)),
		restored: make(map[string]bool),
		dropped:  make(map[string]bool),
		pending:  make(map[string][]Action),
	}
	for i, t := range order {
		s.position[t] = i
	}
	for _, t := range in.Diff.Tables {
		s.compared[t] = true
	}
	for _, e := range in.Diff.Entries {
		switch e.Kind {
		case diff.MissingTable:
			s.created[e.Table] = true
		case diff.MissingColumn:
			s.added[e.Table+"."+e.Column] = true
		}
	}
	for _, t := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.table(ctx, t)
	}
	for _, t := range order {
		s.actions = append(s.actions, s.pending[t]...)
		delete(s.pending, t)
	}
	return &Plan{Order: order, Actions: s.actions, Warnings: s.warnings}, nil
}

type synth struct {
	in       Input
	position map[string]int
	created  map[string]bool
	added    map[string]bool
	compared map[string]bool
	// restored holds foreign keys already recreated with their master
	// definition, keyed by fkKey.
	restored map[string]bool
	dropped  map[string]bool
	// pending re-adds wait for the referencing table's own alterations.
	pending  map[string][]Action
	actions  []Action
	warnings []Warning
}

func fkKey(table, column, refTable string) string {
	return strings.ToLower(table + "|" + column + "|" + refTable)
}

func findFK(t schema.Table, column, refTable string) (schema.ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column && strings.EqualFold(fk.RefTable, refTable) {
			return fk, true
		}
	}
	return schema.ForeignKey{}, false
}

func namedFK(t schema.Table, name string) (schema.ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.Name, name) {
			return fk, true
		}
	}
	return schema.ForeignKey{}, false
}

func (s *synth) add(a Action) { s.actions = append(s.actions, a) }

func (s *synth) warn(kind WarningKind, table, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Kind: kind, Table: table, Message: fmt.Sprintf(format, args...)})
}

func (s *synth) table(ctx context.Context, name string) {
	entries := s.in.Diff.ForTable(name)
	if len(entries) == 0 {
		return
	}
	master, _ := s.in.Master.Table(name)
	if entries[0].Kind == diff.MissingTable {
		s.createTable(master)
		return
	}
	live, _ := s.in.Live.Table(name)

	for _, e := range entries {
		if e.Kind != diff.ExtraColumn {
			continue
		}
		for _, fk := range live.ForeignKeysOn(e.Column) {
			s.dropFK(name, fk, "column "+e.Column+" is dropped")
		}
		col, _ := live.Column(e.Column)
		s.add(Action{Kind: DropColumn, Table: name, Column: col, Reason: "column not in master"})
	}

	for _, e := range entries {
		if e.Kind != diff.MissingColumn {
			continue
		}
		col, _ := master.Column(e.Column)
		s.add(Action{Kind: AddColumn, Table: name, Column: col, Reason: "column missing in live"})
	}

	s.alterColumns(name, master, live, entries)
	s.actions = append(s.actions, s.pending[name]...)
	delete(s.pending, name)

	for _, e := range entries {
		switch e.Kind {
		case diff.ExtraForeignKey:
			if fk, ok := namedFK(live, e.Name); ok {
				s.dropFK(name, fk, "foreign key not in master")
			}
		case diff.WrongForeignKeyRule:
			if s.restored[fkKey(name, e.Column, e.RefTable)] {
				continue
			}
			lfk, _ := namedFK(live, e.Name)
			mfk, _ := findFK(master, e.Column, e.RefTable)
			s.dropFK(name, lfk, fmt.Sprintf("delete rule %s, master wants %s", e.Live, e.Master))
			s.add(Action{Kind: AddForeignKey, Table: name, ForeignKey: mfk, Reason: "delete rule " + e.Master, GuardOrphans: true})
		case diff.MissingForeignKey:
			if s.restored[fkKey(name, e.Column, e.RefTable)] {
				continue
			}
			mfk, _ := findFK(master, e.Column, e.RefTable)
			s.addForeignKey(ctx, name, mfk)
		case diff.MissingReferencedTable:
			s.warn(MissingReferencedTable, name, "foreign key %s on %s references table %s which does not exist", e.Name, e.Column, e.RefTable)
		}
	}

	for _, e := range entries {
		if e.Kind != diff.ExtraIndex {
			continue
		}
		idx, _ := live.Index(e.Name)
		s.add(Action{Kind: DropIndex, Table: name, Index: idx, Reason: "index not in master"})
	}
	for _, e := range entries {
		if e.Kind != diff.MissingIndex {
			continue
		}
		idx, _ := master.Index(e.Name)
		s.add(Action{Kind: AddIndex, Table: name, Index: idx, Reason: "index missing in live"})
	}
}

func (s *synth) createTable(master schema.Table) {
	def := master.Clone()
	kept := def.ForeignKeys[:0]
	for _, fk := range def.ForeignKeys {
		if !s.in.Master.Has(fk.RefTable) {
			s.warn(MissingReferencedTable, def.Name, "foreign key %s on %s left out: table %s does not exist", fk.Name, fk.Column, fk.RefTable)
			continue
		}
		kept = append(kept, fk)
	}
	def.ForeignKeys = kept
	s.add(Action{Kind: CreateTable, Table: def.Name, Definition: def, Reason: "table missing in live"})
}

// alterColumns emits one modify_column per mismatched column. A type change
// on a column that foreign keys point at, or that carries a foreign key
// itself, is wrapped in dropping and recreating those keys.
func (s *synth) alterColumns(name string, master, live schema.Table, entries []diff.Entry) {
	var cols []string
	kinds := make(map[string][]string)
	for _, e := range entries {
		switch e.Kind {
		case diff.TypeMismatch, diff.NullableMismatch, diff.DefaultMismatch:
			if _, seen := kinds[e.Column]; !seen {
				cols = append(cols, e.Column)
			}
			kinds[e.Column] = append(kinds[e.Column], strings.TrimSuffix(string(e.Kind), "_mismatch"))
		}
	}
	for _, colName := range cols {
		target, _ := master.Column(colName)
		typeChange := false
		for _, k := range kinds[colName] {
			typeChange = typeChange || k == "type"
		}
		var refs []schema.Reference
		if typeChange {
			for _, r := range s.in.Live.ReferencesTo(name) {
				if r.ForeignKey.RefColumn == colName {
					refs = append(refs, r)
				}
			}
			for _, fk := range live.ForeignKeysOn(colName) {
				if fk.RefTable != name {
					refs = append(refs, schema.Reference{Table: name, ForeignKey: fk})
				}
			}
		}
		for _, r := range refs {
			s.dropFK(r.Table, r.ForeignKey, "column "+name+"."+colName+" changes type")
		}
		s.add(Action{Kind: ModifyColumn, Table: name, Column: target, Reason: strings.Join(kinds[colName], ", ") + " differs"})
		for _, r := range refs {
			s.restore(name, r)
		}
	}
}

// restore recreates a foreign key dropped around an alteration, with its
// master definition when there is one.
func (s *synth) restore(altered string, r schema.Reference) {
	fk := r.ForeignKey
	if mt, ok := s.in.Master.Table(r.Table); ok {
		mfk, found := findFK(mt, fk.Column, fk.RefTable)
		switch {
		case found:
			fk = mfk
		case s.compared[r.Table]:
			// not in master: the extra_foreign_key entry leaves it dropped
			return
		}
	}
	key := fkKey(r.Table, fk.Column, fk.RefTable)
	if s.restored[key] {
		return
	}
	s.restored[key] = true
	a := Action{Kind: AddForeignKey, Table: r.Table, ForeignKey: fk, Reason: "restore after altering " + altered, GuardOrphans: true}
	if r.Table != altered && s.changesType(r.Table, fk.Column) && s.position[r.Table] > s.position[altered] {
		s.pending[r.Table] = append(s.pending[r.Table], a)
		return
	}
	s.add(a)
}

func (s *synth) changesType(table, column string) bool {
	for _, e := range s.in.Diff.ForTable(table) {
		if e.Kind == diff.TypeMismatch && e.Column == column {
			return true
		}
	}
	return false
}

func (s *synth) dropFK(table string, fk schema.ForeignKey, reason string) {
	key := strings.ToLower(table + "|" + fk.Name)
	if s.dropped[key] {
		return
	}
	s.dropped[key] = true
	s.add(Action{Kind: DropForeignKey, Table: table, ForeignKey: fk, Reason: reason})
}

// addForeignKey never emits a constraint over orphaned rows: it counts them
// now when it can and otherwise guards the action at apply time.
func (s *synth) addForeignKey(ctx context.Context, table string, fk schema.ForeignKey) {
	guard := s.in.Orphans == nil || s.created[fk.RefTable] || s.added[table+"."+fk.Column] || s.added[fk.RefTable+"."+fk.RefColumn]
	if !guard {
		n, err := s.in.Orphans.CountOrphans(ctx, table, fk)
		switch {
		case err != nil:
			guard = true
		case n > 0:
			s.warn(OrphanedRows, table, "foreign key %s not created: %d row(s) in %s.%s have no match in %s.%s",
				fk.Name, n, table, fk.Column, fk.RefTable, fk.RefColumn)
			return
		}
	}
	s.add(Action{Kind: AddForeignKey, Table: table, ForeignKey: fk, Reason: "foreign key missing in live", GuardOrphans: guard})
}
