package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/diff"
	"db_schema_reconciler/internal/schema"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Target is the live database a plan is applied to. db.Adapter satisfies it.
type Target interface {
	Dialect() db.Dialect
	FetchSchema(ctx context.Context, tables []string) (*schema.Snapshot, error)
	CountOrphans(ctx context.Context, table string, fk schema.ForeignKey) (int64, error)
	Exec(ctx context.Context, stmt string) error
}

// Outcome is what happened to one action.
type Outcome string

const (
	Applied Outcome = "applied"
	// Skipped: the precondition showed there was nothing to do.
	Skipped Outcome = "skipped"
	// Blocked: an orphan guard found rows without a parent.
	Blocked Outcome = "blocked"
	Failed  Outcome = "failed"
)

// ErrColumnAlterationFailed matches the ActionError of a failed
// modify_column.
var ErrColumnAlterationFailed = errors.New("column alteration failed")

// ActionError is the failure of a single action.
type ActionError struct {
	Action Action
	Err    error
}

func (e *ActionError) Error() string { return e.Action.Describe() + ": " + e.Err.Error() }

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool {
	return target == ErrColumnAlterationFailed && e.Action.Kind == ModifyColumn
}

// ActionResult records the outcome of one action.
type ActionResult struct {
	Action     Action   `json:"action"`
	Outcome    Outcome  `json:"outcome"`
	Statements []string `json:"statements,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Err        error    `json:"-"`
}

// SyncReport is the best-effort outcome of applying a plan.
type SyncReport struct {
	Results  []ActionResult `json:"results"`
	Warnings []Warning      `json:"warnings,omitempty"`
	errs     error
}

// Err combines every failed action; nil when none failed.
func (r *SyncReport) Err() error { return r.errs }

func (r *SyncReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Attention lists the results an operator has to look at: blocked and
// failed actions.
func (r *SyncReport) Attention() []ActionResult {
	var out []ActionResult
	for _, res := range r.Results {
		if res.Outcome == Blocked || res.Outcome == Failed {
			out = append(out, res)
		}
	}
	return out
}

func (r *SyncReport) Describe() string {
	lines := []string{fmt.Sprintf("applied=%d skipped=%d blocked=%d failed=%d",
		r.Count(Applied), r.Count(Skipped), r.Count(Blocked), r.Count(Failed))}
	for _, res := range r.Results {
		line := fmt.Sprintf("  [%s] %s", res.Outcome, res.Action.Describe())
		switch {
		case res.Err != nil:
			line += ": " + res.Err.Error()
		case res.Reason != "":
			line += ": " + res.Reason
		}
		lines = append(lines, line)
	}
	for _, w := range r.Warnings {
		lines = append(lines, "  [warning] "+w.String())
	}
	return strings.Join(lines, "\n")
}

// Applier executes plans one action at a time.
type Applier struct {
	target Target
	logger Logger
}

func NewApplier(target Target, logger Logger) *Applier {
	return &Applier{target: target, logger: logger}
}

// Apply runs every action of p. Each action re-reads the live table and
// is skipped when there is nothing to do; a failing action is recorded and
// the run continues.
func (ap *Applier) Apply(ctx context.Context, p *Plan) *SyncReport {
	report := &SyncReport{Warnings: append([]Warning(nil), p.Warnings...)}
	for _, a := range p.Actions {
		if err := ctx.Err(); err != nil {
			res := ActionResult{Action: a, Outcome: Failed, Err: err}
			report.Results = append(report.Results, res)
			report.errs = multierr.Append(report.errs, &ActionError{Action: a, Err: err})
			continue
		}
		res := ap.apply(ctx, a)
		report.Results = append(report.Results, res)
		if res.Outcome == Failed {
			report.errs = multierr.Append(report.errs, &ActionError{Action: a, Err: res.Err})
		}
	}
	return report
}

func (ap *Applier) apply(ctx context.Context, a Action) ActionResult {
	res := ActionResult{Action: a}
	fail := func(err error) ActionResult {
		res.Outcome, res.Err = Failed, err
		ap.logger.Error("action failed", "table", a.Table, "action", string(a.Kind), "object", a.Object(), "error", err)
		return res
	}

	live, err := ap.target.FetchSchema(ctx, []string{a.Table})
	if err != nil {
		return fail(fmt.Errorf("check precondition: %w", err))
	}
	if done, why := satisfied(a, live, ap.target.Dialect()); done {
		res.Outcome, res.Reason = Skipped, why
		ap.logger.Info("action skipped", "table", a.Table, "action", string(a.Kind), "object", a.Object(), "reason", why)
		return res
	}
	if a.Kind == AddForeignKey && a.GuardOrphans {
		n, err := ap.target.CountOrphans(ctx, a.Table, a.ForeignKey)
		if err != nil {
			return fail(err)
		}
		if n > 0 {
			res.Outcome = Blocked
			res.Reason = fmt.Sprintf("%d orphaned row(s) in %s.%s", n, a.Table, a.ForeignKey.Column)
			ap.logger.Warn("foreign key blocked by orphaned rows", "table", a.Table, "object", a.Object(), "orphans", n)
			return res
		}
	}

	stmts, err := a.Statements(ap.target.Dialect())
	if err != nil {
		return fail(err)
	}
	res.Statements = stmts
	for _, stmt := range stmts {
		if err := ap.target.Exec(ctx, stmt); err != nil {
			return fail(err)
		}
	}
	res.Outcome = Applied
	ap.logger.Info("action applied", "table", a.Table, "action", string(a.Kind), "object", a.Object())
	return res
}

// satisfied is the check-before-act precondition: it reports whether the
// live table already looks the way the action would leave it.
func satisfied(a Action, live *schema.Snapshot, d db.Dialect) (bool, string) {
	t, exists := live.Table(a.Table)
	if a.Kind == CreateTable {
		return exists, "table already exists"
	}
	if !exists {
		switch a.Kind {
		case DropColumn, DropForeignKey, DropIndex:
			return true, "table does not exist"
		}
		return false, ""
	}
	switch a.Kind {
	case DropColumn:
		return !t.HasColumn(a.Column.Name), "column already absent"
	case AddColumn:
		return t.HasColumn(a.Column.Name), "column already present"
	case ModifyColumn:
		cur, ok := t.Column(a.Column.Name)
		return ok && columnMatches(cur, a.Column, d), "column already matches"
	case DropForeignKey:
		_, ok := namedFK(t, a.ForeignKey.Name)
		return !ok, "foreign key already absent"
	case AddForeignKey:
		if _, ok := namedFK(t, a.ForeignKey.Name); ok {
			return true, "foreign key already present"
		}
		cur, ok := findFK(t, a.ForeignKey.Column, a.ForeignKey.RefTable)
		return ok && schema.NormalizeDeleteRule(string(cur.OnDelete)) == schema.NormalizeDeleteRule(string(a.ForeignKey.OnDelete)),
			"foreign key already present"
	case DropIndex:
		_, ok := t.Index(a.Index.Name)
		return !ok, "index already absent"
	case AddIndex:
		for _, idx := range t.Indexes {
			if strings.EqualFold(idx.Name, a.Index.Name) || (idx.Unique == a.Index.Unique && idx.SameColumns(a.Index)) {
				return true, "index already present"
			}
		}
	}
	return false, ""
}

func columnMatches(cur, target schema.Column, d db.Dialect) bool {
	if cur.Nullable != target.Nullable {
		return false
	}
	if diff.NormalizeDefault(cur.Default) != diff.NormalizeDefault(target.Default) {
		return false
	}
	return diff.NormalizeType(cur.Type.Raw) == diff.NormalizeType(d.ColumnType(target))
}
