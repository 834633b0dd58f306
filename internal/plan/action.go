// Package plan turns a schema diff into an ordered list of corrective
// actions and applies them best-effort against a live database.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/schema"
)

// ActionKind names a corrective operation.
type ActionKind string

const (
	CreateTable    ActionKind = "create_table"
	DropColumn     ActionKind = "drop_column"
	AddColumn      ActionKind = "add_column"
	ModifyColumn   ActionKind = "modify_column"
	DropForeignKey ActionKind = "drop_foreign_key"
	AddForeignKey  ActionKind = "add_foreign_key"
	DropIndex      ActionKind = "drop_index"
	AddIndex       ActionKind = "add_index"
)

// Action is one corrective operation on one table. Only the field matching
// Kind is meaningful: Definition for create_table, Column for column
// actions, ForeignKey and Index for constraint actions.
type Action struct {
	Kind       ActionKind        `json:"kind"`
	Table      string            `json:"table"`
	Definition schema.Table      `json:"-"`
	Column     schema.Column     `json:"-"`
	ForeignKey schema.ForeignKey `json:"-"`
	Index      schema.Index      `json:"-"`
	// Reason says which discrepancy produced the action.
	Reason string `json:"reason,omitempty"`
	// GuardOrphans asks the applier to count orphaned rows right before
	// adding the foreign key and to skip it when there are any.
	GuardOrphans bool `json:"guard_orphans,omitempty"`
}

// Object names the column, constraint or index the action touches.
func (a Action) Object() string {
	switch a.Kind {
	case CreateTable:
		return a.Table
	case DropColumn, AddColumn, ModifyColumn:
		return a.Column.Name
	case DropForeignKey, AddForeignKey:
		return a.ForeignKey.Name
	default:
		return a.Index.Name
	}
}

// Describe renders the action as one report line.
func (a Action) Describe() string {
	var what string
	switch a.Kind {
	case CreateTable:
		what = fmt.Sprintf("create table (%d columns)", len(a.Definition.Columns))
	case DropColumn:
		what = "drop column " + a.Column.Name
	case AddColumn:
		what = "add column " + a.Column.Name + " " + a.Column.Type.String()
	case ModifyColumn:
		what = "modify column " + a.Column.Name + " to " + describeColumn(a.Column)
	case DropForeignKey:
		what = "drop foreign key " + a.ForeignKey.Name
	case AddForeignKey:
		what = "add foreign key " + a.ForeignKey.Name + " (" + a.ForeignKey.Describe(a.Table) + ")"
		if a.GuardOrphans {
			what += " if no orphaned rows"
		}
	case DropIndex:
		what = "drop index " + a.Index.Name
	case AddIndex:
		what = "add index " + a.Index.Name + " (" + strings.Join(a.Index.Columns, ", ") + ")"
	default:
		what = string(a.Kind)
	}
	if a.Reason != "" {
		what += " [" + a.Reason + "]"
	}
	return a.Table + ": " + what
}

func describeColumn(c schema.Column) string {
	parts := []string{c.Type.String()}
	if c.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	if c.Default.IsSet() {
		parts = append(parts, "DEFAULT "+c.Default.String())
	}
	if c.AutoIncrement {
		parts = append(parts, "AUTO_INCREMENT")
	}
	return strings.Join(parts, " ")
}

// Statements renders the action in the given dialect.
func (a Action) Statements(d db.Dialect) ([]string, error) {
	switch a.Kind {
	case CreateTable:
		return d.CreateTable(a.Definition)
	case DropColumn:
		return d.DropColumn(a.Table, a.Column.Name)
	case AddColumn:
		return d.AddColumn(a.Table, a.Column)
	case ModifyColumn:
		return d.ModifyColumn(a.Table, a.Column)
	case DropForeignKey:
		return d.DropForeignKey(a.Table, a.ForeignKey)
	case AddForeignKey:
		return d.AddForeignKey(a.Table, a.ForeignKey)
	case DropIndex:
		return d.DropIndex(a.Table, a.Index)
	case AddIndex:
		return d.AddIndex(a.Table, a.Index)
	}
	return nil, fmt.Errorf("unknown action kind %q", a.Kind)
}

// WarningKind classifies a plan warning.
type WarningKind string

const (
	// OrphanedRows: a foreign key was not created because rows reference
	// missing parents.
	OrphanedRows           WarningKind = "orphaned_rows"
	MissingReferencedTable WarningKind = "missing_referenced_table"
	Unsupported            WarningKind = "unsupported"
)

// Warning records something the plan deliberately did not do.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Table   string      `json:"table"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Table, w.Message, w.Kind)
}

// Plan is the ordered corrective action list for one diff.
type Plan struct {
	Order    []string  `json:"order"`
	Actions  []Action  `json:"actions"`
	Warnings []Warning `json:"warnings,omitempty"`
}

func (p *Plan) Empty() bool { return len(p.Actions) == 0 }

// Statements renders every action in order. Actions the dialect cannot
// express are left out and reported in the returned error.
func (p *Plan) Statements(d db.Dialect) ([]string, error) {
	var (
		out  []string
		errs error
	)
	for _, a := range p.Actions {
		stmts, err := a.Statements(d)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", a.Describe(), err))
			continue
		}
		out = append(out, stmts...)
	}
	return out, errs
}

// Script renders the plan as a SQL script with one comment per action.
// Unsupported actions stay in the script as comments.
func (p *Plan) Script(d db.Dialect) string {
	var b strings.Builder
	for _, a := range p.Actions {
		b.WriteString("-- " + a.Describe() + "\n")
		stmts, err := a.Statements(d)
		if err != nil {
			if errors.Is(err, db.ErrUnsupported) {
				b.WriteString("-- skipped: not supported by " + d.Name() + "\n\n")
				continue
			}
			b.WriteString("-- skipped: " + err.Error() + "\n\n")
			continue
		}
		for _, s := range stmts {
			b.WriteString(s + ";\n")
		}
		b.WriteString("\n")
	}
	for _, w := range p.Warnings {
		b.WriteString("-- warning: " + w.String() + "\n")
	}
	return b.String()
}

// Describe renders the human-readable change report.
func (p *Plan) Describe() string {
	if p.Empty() && len(p.Warnings) == 0 {
		return "no changes"
	}
	lines := []string{fmt.Sprintf("%d action(s)", len(p.Actions))}
	for i, a := range p.Actions {
		lines = append(lines, fmt.Sprintf("%3d. %s", i+1, a.Describe()))
	}
	if len(p.Warnings) > 0 {
		lines = append(lines, fmt.Sprintf("%d warning(s)", len(p.Warnings)))
		for _, w := range p.Warnings {
			lines = append(lines, "  "+w.String())
		}
	}
	return strings.Join(lines, "\n")
}
