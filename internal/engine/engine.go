// Package engine ties the extractor, introspector, differ, synthesizer and
// reconciler into runs. A Run carries everything one unit of work needs;
// nothing is shared between runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/diff"
	"db_schema_reconciler/internal/journal"
	"db_schema_reconciler/internal/master"
	"db_schema_reconciler/internal/metrics"
	"db_schema_reconciler/internal/plan"
	"db_schema_reconciler/internal/refdata"
	"db_schema_reconciler/internal/schema"
	"db_schema_reconciler/internal/storage"
)

// Journal records runs. *journal.Journal satisfies it.
type Journal interface {
	StartRun(ctx context.Context, id uuid.UUID, kind, provider string, tables []string) error
	RecordEvents(ctx context.Context, runID uuid.UUID, events []journal.Event) error
	FinishRun(ctx context.Context, id uuid.UUID, counts map[string]int, summary string, runErr error) error
}

// Deps are the long-lived collaborators of an Engine. Journal is optional.
type Deps struct {
	Master  config.MasterConfig
	Target  db.Adapter
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Journal Journal
}

type Engine struct {
	deps Deps
}

func New(deps Deps) (*Engine, error) {
	if deps.Target == nil {
		return nil, errors.New("engine: target database is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	if deps.Master.SchemaFile == "" {
		return nil, errors.New("engine: master schema file is required")
	}
	if deps.Metrics == nil {
		m, err := metrics.New()
		if err != nil {
			return nil, err
		}
		deps.Metrics = m
	}
	return &Engine{deps: deps}, nil
}

func (e *Engine) Metrics() *metrics.Metrics { return e.deps.Metrics }

// Dialect is the DDL dialect of the target database.
func (e *Engine) Dialect() db.Dialect { return e.deps.Target.Dialect() }

// Run is one unit of work: a fresh master snapshot, a fresh live snapshot
// of the master's tables and a logger tagged with the run id.
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	Master    *schema.Snapshot
	Live      *schema.Snapshot
	// Tables is the set of master tables being compared.
	Tables []string
	// ParseErr joins the master blocks that failed to parse; those tables
	// are left out of the run.
	ParseErr error

	e      *Engine
	logger *slog.Logger
}

// NewRun parses the master document and introspects the live database.
func (e *Engine) NewRun(ctx context.Context) (*Run, error) {
	id := uuid.New()
	logger := e.deps.Logger.With("run_id", id.String())

	m, err := master.ExtractFile(e.deps.Master.SchemaFile)
	if m == nil {
		return nil, err
	}
	if err != nil {
		for _, t := range master.FailedTables(err) {
			logger.Error("master table skipped", "table", t)
		}
		logger.Error("master schema has errors", "error", err)
	}
	if m.Len() == 0 {
		return nil, fmt.Errorf("master schema %s defines no usable tables: %w", e.deps.Master.SchemaFile, err)
	}

	tables := m.Names()
	if len(e.deps.Master.Tables) > 0 {
		tables = tables[:0]
		for _, t := range e.deps.Master.Tables {
			if !m.Has(t) {
				logger.Warn("requested table not in master schema", "table", t)
				continue
			}
			tables = append(tables, t)
		}
	}

	live, err := e.deps.Target.FetchSchema(ctx, m.Names())
	if err != nil {
		return nil, fmt.Errorf("introspect live schema: %w", err)
	}
	logger.Info("run started", "provider", e.deps.Target.Provider(), "master_tables", m.Len(), "live_tables", live.Len(), "compared", len(tables))
	return &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Master:    m,
		Live:      live,
		Tables:    tables,
		ParseErr:  err,
		e:         e,
		logger:    logger,
	}, nil
}

func (r *Run) Logger() *slog.Logger { return r.logger }

// Diff compares the master and live snapshots.
func (r *Run) Diff() diff.Result {
	res := diff.Compare(r.Master, r.Live, r.Tables, r.e.deps.Target.Dialect())
	for kind, n := range res.ByKind() {
		r.e.deps.Metrics.DiffEntry(string(kind), n)
	}
	r.logger.Info("schema compared", "tables", len(res.Tables), "differences", res.Count())
	return res
}

// Plan synthesizes the corrective plan for the current diff. Orphaned rows
// are counted against the live database.
func (r *Run) Plan(ctx context.Context) (*plan.Plan, diff.Result, error) {
	res := r.Diff()
	p, err := plan.Synthesize(ctx, plan.Input{
		Diff:    res,
		Master:  r.Master,
		Live:    r.Live,
		Orphans: r.e.deps.Target,
	})
	if err != nil {
		return nil, res, err
	}
	for _, w := range p.Warnings {
		r.logger.Warn("plan warning", "table", w.Table, "kind", string(w.Kind), "message", w.Message)
	}
	r.logger.Info("plan synthesized", "actions", len(p.Actions), "warnings", len(p.Warnings))
	return p, res, nil
}

// SyncResult is the outcome of Sync. Report is nil when nothing was
// applied.
type SyncResult struct {
	Diff   diff.Result
	Plan   *plan.Plan
	Report *plan.SyncReport
}

// Sync synthesizes the plan and, when apply is set, executes it best-effort.
// The returned error is only set when no plan could be built; failed actions
// are in the report.
func (r *Run) Sync(ctx context.Context, apply bool) (*SyncResult, error) {
	p, res, err := r.Plan(ctx)
	if err != nil {
		return nil, err
	}
	out := &SyncResult{Diff: res, Plan: p}
	if !apply || p.Empty() {
		return out, nil
	}

	err = r.track(ctx, "sync", r.Tables, func() (map[string]int, string, []journal.Event, error) {
		report := plan.NewApplier(r.e.deps.Target, r.logger).Apply(ctx, p)
		out.Report = report
		counts := make(map[string]int)
		events := make([]journal.Event, 0, len(report.Results))
		for _, ar := range report.Results {
			counts[string(ar.Outcome)]++
			r.e.deps.Metrics.Action(string(ar.Action.Kind), string(ar.Outcome))
			detail := ar.Reason
			if ar.Err != nil {
				detail = ar.Err.Error()
			}
			events = append(events, journal.Event{
				Table:   ar.Action.Table,
				Action:  string(ar.Action.Kind),
				Object:  ar.Action.Object(),
				Outcome: string(ar.Outcome),
				Detail:  detail,
			})
		}
		counts["warnings"] = len(report.Warnings)
		return counts, report.Describe(), events, report.Err()
	})
	if err != nil {
		r.logger.Warn("sync finished with failed actions", "failed", out.Report.Count(plan.Failed), "error", err)
	}
	return out, nil
}

// Reconcile syncs the reference data of doc. With commit unset the work is
// rolled back and the report is a preview.
func (r *Run) Reconcile(ctx context.Context, doc *refdata.Document, commit bool) (*refdata.Report, error) {
	names := append(append([]string(nil), doc.Meta.Tables...), r.Master.Names()...)
	live, err := r.e.deps.Target.FetchSchema(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("introspect live schema: %w", err)
	}
	rec := refdata.New(r.e.deps.Target, live, r.logger)

	var report *refdata.Report
	kind := "reconcile"
	if !commit {
		kind = "reconcile_preview"
	}
	err = r.track(ctx, kind, doc.Meta.Tables, func() (map[string]int, string, []journal.Event, error) {
		var runErr error
		if commit {
			report, runErr = rec.Run(ctx, doc)
		} else {
			report, runErr = rec.Preview(ctx, doc)
		}
		total := report.Totals()
		counts := map[string]int{"updated": total.Updated, "inserted": total.Inserted, "deleted": total.Deleted}
		var events []journal.Event
		for _, t := range report.Tables {
			if report.Committed {
				r.e.deps.Metrics.ReferenceRows(t.Table, "updated", t.Updated)
				r.e.deps.Metrics.ReferenceRows(t.Table, "inserted", t.Inserted)
				r.e.deps.Metrics.ReferenceRows(t.Table, "deleted", t.Deleted)
			}
			events = append(events, journal.Event{
				Table:   t.Table,
				Action:  "reconcile",
				Outcome: outcome(report),
				Detail:  fmt.Sprintf("updated=%d inserted=%d deleted=%d", t.Updated, t.Inserted, t.Deleted),
			})
		}
		return counts, report.Summary(), events, runErr
	})
	return report, err
}

func outcome(report *refdata.Report) string {
	switch {
	case !report.OK():
		return "rolled_back"
	case report.Committed:
		return "committed"
	default:
		return "preview"
	}
}

// SavePlan renders p in the target dialect and stores it under name.
func (r *Run) SavePlan(store *storage.Store, name string, p *plan.Plan) (storage.PlanRecord, error) {
	d := r.e.deps.Target.Dialect()
	rec, err := store.SavePlan(storage.SavedPlan{
		Name:     name,
		RunID:    r.ID.String(),
		Dialect:  d.Name(),
		Script:   p.Script(d),
		Report:   p.Describe(),
		Actions:  len(p.Actions),
		Warnings: len(p.Warnings),
	})
	if err != nil {
		return rec, err
	}
	r.logger.Info("plan saved", "name", rec.Name, "checksum", rec.Checksum)
	return rec, nil
}

// track times fn, records it in the metrics and, when configured, the
// journal. Journal failures are logged and never fail the run.
func (r *Run) track(ctx context.Context, kind string, tables []string, fn func() (map[string]int, string, []journal.Event, error)) error {
	j := r.e.deps.Journal
	if j != nil {
		if err := j.StartRun(ctx, r.ID, kind, r.e.deps.Target.Provider(), tables); err != nil {
			r.logger.Error("journal start failed", "error", err)
			j = nil
		}
	}
	start := time.Now()
	counts, summary, events, runErr := fn()
	status := "ok"
	if runErr != nil {
		status = "error"
	}
	r.e.deps.Metrics.ObserveRun(kind, status, time.Since(start))
	r.logger.Info("run finished", "kind", kind, "status", status, "counts", formatCounts(counts))

	if j != nil {
		if err := j.RecordEvents(ctx, r.ID, events); err != nil {
			r.logger.Error("journal events failed", "error", err)
		}
		if err := j.FinishRun(ctx, r.ID, counts, summary, runErr); err != nil {
			r.logger.Error("journal finish failed", "error", err)
		}
	}
	return runErr
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, k := range []string{"applied", "skipped", "blocked", "failed", "warnings", "updated", "inserted", "deleted"} {
		if n, ok := counts[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	return strings.Join(parts, " ")
}
