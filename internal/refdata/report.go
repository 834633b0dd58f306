package refdata

import (
	"fmt"
	"strings"
)

// TableReport counts the rows written to one table.
type TableReport struct {
	Table    string `json:"table"`
	Updated  int    `json:"updated"`
	Inserted int    `json:"inserted"`
	Deleted  int    `json:"deleted"`
}

// Report is the outcome of one reconciliation. Tables are in dependency
// order. Counts of a run that was not committed describe work that was
// rolled back.
type Report struct {
	Tables    []TableReport `json:"tables"`
	Errors    []string      `json:"errors,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Committed bool          `json:"committed"`
}

// OK reports whether the run finished without a fatal error. Warnings do
// not count.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Totals sums the counts over all tables.
func (r *Report) Totals() TableReport {
	var t TableReport
	for _, tr := range r.Tables {
		t.Updated += tr.Updated
		t.Inserted += tr.Inserted
		t.Deleted += tr.Deleted
	}
	return t
}

// Summary renders the report for an operator.
func (r *Report) Summary() string {
	var b strings.Builder
	total := r.Totals()
	status := "committed"
	switch {
	case !r.OK():
		status = "aborted, nothing changed"
	case !r.Committed:
		status = "preview, rolled back"
	}
	fmt.Fprintf(&b, "reference data %s: updated=%d inserted=%d deleted=%d\n", status, total.Updated, total.Inserted, total.Deleted)
	for _, tr := range r.Tables {
		fmt.Fprintf(&b, "  %-30s updated=%d inserted=%d deleted=%d\n", tr.Table, tr.Updated, tr.Inserted, tr.Deleted)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "  warning: %s\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}
