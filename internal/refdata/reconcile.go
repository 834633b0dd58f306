package refdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/depgraph"
	"db_schema_reconciler/internal/schema"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store opens the transaction a reconciliation runs in. db.Adapter
// satisfies it.
type Store interface {
	BeginData(ctx context.Context) (db.DataTx, error)
}

// ErrMissingTable is returned when a table listed in meta has no rows in
// the document or does not exist live.
var ErrMissingTable = errors.New("reference table missing")

// SchemaValidationError lists canonical columns the live tables lack.
// Structural sync has to run before the data can be reconciled.
type SchemaValidationError struct {
	// Missing maps table name to the sorted missing column names.
	Missing map[string][]string
}

func (e *SchemaValidationError) Error() string {
	tables := make([]string, 0, len(e.Missing))
	for t := range e.Missing {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = t + " (" + strings.Join(e.Missing[t], ", ") + ")"
	}
	return "live schema lacks reference data columns, run structural sync first: " + strings.Join(parts, "; ")
}

// RestrictedDeleteError reports a stale reference row that a RESTRICT
// foreign key still points at.
type RestrictedDeleteError struct {
	Table      string
	ID         string
	RefTable   string
	RefColumn  string
	References int64
}

func (e *RestrictedDeleteError) Error() string {
	return fmt.Sprintf("cannot delete %s id=%s: %d row(s) in %s.%s reference it with ON DELETE RESTRICT",
		e.Table, e.ID, e.References, e.RefTable, e.RefColumn)
}

// Reconciler makes live reference tables match a canonical document.
type Reconciler struct {
	store  Store
	live   *schema.Snapshot
	logger Logger
}

// New builds a Reconciler. live supplies primary keys, columns and the
// foreign keys checked before a delete; it must cover the document's tables
// and every table referencing them.
func New(store Store, live *schema.Snapshot, logger Logger) *Reconciler {
	return &Reconciler{store: store, live: live, logger: logger}
}

// Run reconciles doc in one transaction and commits it. Any fatal condition
// rolls back every change; the returned report then carries the error.
func (r *Reconciler) Run(ctx context.Context, doc *Document) (*Report, error) {
	return r.run(ctx, doc, true)
}

// Preview runs the reconciliation and rolls it back, reporting what Run
// would do.
func (r *Reconciler) Preview(ctx context.Context, doc *Document) (*Report, error) {
	return r.run(ctx, doc, false)
}

func (r *Reconciler) run(ctx context.Context, doc *Document, commit bool) (report *Report, err error) {
	report = &Report{}
	defer func() {
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			r.logger.Error("reference data reconciliation aborted", "error", err)
		}
	}()

	if err := doc.Validate(); err != nil {
		return report, err
	}
	order, err := depgraph.FromSnapshot(r.live, doc.Meta.Tables).Order()
	if err != nil {
		return report, fmt.Errorf("order reference tables: %w", err)
	}
	if err := r.check(doc, order); err != nil {
		return report, err
	}

	tx, err := r.store.BeginData(ctx)
	if err != nil {
		return report, fmt.Errorf("begin reconciliation: %w", err)
	}
	defer func() {
		if err != nil || !commit {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	counts := make(map[string]*TableReport, len(order))
	canonical := make(map[string]map[string]bool, len(order))
	for _, name := range order {
		tr := &TableReport{Table: name}
		counts[name] = tr
		keep, err := r.upsert(ctx, tx, name, doc.Data[name], tr)
		if err != nil {
			return report, err
		}
		canonical[name] = keep
	}
	for _, name := range depgraph.Reverse(order) {
		if err := r.prune(ctx, tx, name, canonical[name], counts[name]); err != nil {
			return report, err
		}
	}
	for _, name := range order {
		tr := counts[name]
		report.Tables = append(report.Tables, *tr)
		r.logger.Info("reference table reconciled", "table", name, "updated", tr.Updated, "inserted", tr.Inserted, "deleted", tr.Deleted)
	}

	if !commit {
		return report, nil
	}
	if err := tx.Commit(); err != nil {
		var post *db.PostCommitError
		if !errors.As(err, &post) {
			return report, fmt.Errorf("commit reconciliation: %w", err)
		}
		report.Warnings = append(report.Warnings, post.Err.Error())
		r.logger.Warn("reference data committed with follow-up failures", "error", post.Err)
	}
	report.Committed = true
	return report, nil
}

// check verifies every table before anything is written.
func (r *Reconciler) check(doc *Document, order []string) error {
	missing := make(map[string][]string)
	for _, name := range order {
		rows, ok := doc.Data[name]
		if !ok {
			return fmt.Errorf("%w: %s is listed in meta.tables but has no data", ErrMissingTable, name)
		}
		t, ok := r.live.Table(name)
		if !ok {
			return fmt.Errorf("%w: %s does not exist in the live database", ErrMissingTable, name)
		}
		idCol := t.IdentifierColumn()
		absent := make(map[string]bool)
		for i, row := range rows {
			if id, ok := row[idCol]; !ok || id == nil {
				return fmt.Errorf("%s row %d: identifier column %s is missing", name, i+1, idCol)
			}
			for col := range row {
				if !t.HasColumn(col) {
					absent[col] = true
				}
			}
		}
		if len(absent) > 0 {
			cols := make([]string, 0, len(absent))
			for c := range absent {
				cols = append(cols, c)
			}
			sort.Strings(cols)
			missing[name] = cols
		}
	}
	if len(missing) > 0 {
		return &SchemaValidationError{Missing: missing}
	}
	return nil
}

// upsert raises the identifier high-water mark and writes every canonical
// row. It returns the canonical identifiers of the table.
func (r *Reconciler) upsert(ctx context.Context, tx db.DataTx, name string, rows []Row, tr *TableReport) (map[string]bool, error) {
	t, _ := r.live.Table(name)
	idCol := t.IdentifierColumn()

	liveIDs, err := tx.RowIDs(ctx, name, idCol)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		existing[db.FormatID(id)] = true
	}

	var (
		maxID   int64
		numeric bool
	)
	keep := make(map[string]bool, len(rows))
	for _, row := range rows {
		keep[db.FormatID(row[idCol])] = true
		if n, ok := integerID(row[idCol]); ok && (!numeric || n > maxID) {
			maxID, numeric = n, true
		}
	}
	if numeric {
		if err := tx.RaiseIdentity(ctx, name, idCol, maxID+1); err != nil {
			return nil, err
		}
	}

	for _, row := range rows {
		id := row[idCol]
		if existing[db.FormatID(id)] {
			if _, err := tx.Update(ctx, name, idCol, id, row); err != nil {
				return nil, err
			}
			tr.Updated++
			continue
		}
		if err := tx.Insert(ctx, name, row); err != nil {
			return nil, err
		}
		tr.Inserted++
	}
	return keep, nil
}

// prune deletes live rows missing from the canonical set. A RESTRICT
// reference to such a row is fatal.
func (r *Reconciler) prune(ctx context.Context, tx db.DataTx, name string, keep map[string]bool, tr *TableReport) error {
	t, _ := r.live.Table(name)
	idCol := t.IdentifierColumn()

	var guards []schema.Reference
	for _, ref := range r.live.ReferencesTo(name) {
		if schema.NormalizeDeleteRule(string(ref.ForeignKey.OnDelete)) == schema.RuleRestrict &&
			strings.EqualFold(ref.ForeignKey.RefColumn, idCol) {
			guards = append(guards, ref)
		}
	}

	liveIDs, err := tx.RowIDs(ctx, name, idCol)
	if err != nil {
		return err
	}
	for _, id := range liveIDs {
		key := db.FormatID(id)
		if keep[key] {
			continue
		}
		for _, g := range guards {
			n, err := tx.CountReferences(ctx, g.Table, g.ForeignKey.Column, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return &RestrictedDeleteError{Table: name, ID: key, RefTable: g.Table, RefColumn: g.ForeignKey.Column, References: n}
			}
		}
		if _, err := tx.Delete(ctx, name, idCol, id); err != nil {
			return err
		}
		tr.Deleted++
	}
	return nil
}
