package httpserver

import (
	"errors"
	"net/http"

	"db_schema_reconciler/internal/depgraph"
	"db_schema_reconciler/internal/diff"
	"db_schema_reconciler/internal/engine"
	"db_schema_reconciler/internal/master"
	"db_schema_reconciler/internal/plan"
)

// SchemaHandler serves diff and plan previews. Every request is a fresh run.
type SchemaHandler struct {
	engine *engine.Engine
	logger requestLogger
}

type diffResponse struct {
	RunID         string            `json:"run_id"`
	Tables        []string          `json:"tables"`
	SkippedTables []string          `json:"skipped_tables,omitempty"`
	Counts        map[diff.Kind]int `json:"counts"`
	Entries       []diff.Entry      `json:"entries"`
}

type actionView struct {
	Kind        plan.ActionKind `json:"kind"`
	Table       string          `json:"table"`
	Object      string          `json:"object"`
	Description string          `json:"description"`
	Reason      string          `json:"reason,omitempty"`
	Guarded     bool            `json:"guarded,omitempty"`
}

type planResponse struct {
	RunID    string         `json:"run_id"`
	Dialect  string         `json:"dialect"`
	Order    []string       `json:"order"`
	Actions  []actionView   `json:"actions"`
	Warnings []plan.Warning `json:"warnings"`
	Script   string         `json:"script"`
}

func (h *SchemaHandler) Diff(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.NewRun(r.Context())
	if err != nil {
		h.logger.Error("diff run failed", "error", err)
		respondError(w, http.StatusInternalServerError, "run_failed", err)
		return
	}
	res := run.Diff()
	entries := res.Entries
	if entries == nil {
		entries = []diff.Entry{}
	}
	respond(w, http.StatusOK, diffResponse{
		RunID:         run.ID.String(),
		Tables:        res.Tables,
		SkippedTables: master.FailedTables(run.ParseErr),
		Counts:        res.ByKind(),
		Entries:       entries,
	})
}

// Plan renders the corrective plan as JSON, or as the SQL script alone with
// ?format=sql.
func (h *SchemaHandler) Plan(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.NewRun(r.Context())
	if err != nil {
		h.logger.Error("plan run failed", "error", err)
		respondError(w, http.StatusInternalServerError, "run_failed", err)
		return
	}
	p, _, err := run.Plan(r.Context())
	if err != nil {
		if errors.Is(err, depgraph.ErrCycleDetected) {
			respondError(w, http.StatusConflict, "dependency_cycle", err)
			return
		}
		h.logger.Error("plan synthesis failed", "run_id", run.ID.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "plan_failed", err)
		return
	}

	d := h.engine.Dialect()
	script := p.Script(d)
	if r.URL.Query().Get("format") == "sql" {
		respondText(w, http.StatusOK, script)
		return
	}

	actions := make([]actionView, 0, len(p.Actions))
	for _, a := range p.Actions {
		actions = append(actions, actionView{
			Kind:        a.Kind,
			Table:       a.Table,
			Object:      a.Object(),
			Description: a.Describe(),
			Reason:      a.Reason,
			Guarded:     a.GuardOrphans,
		})
	}
	warnings := p.Warnings
	if warnings == nil {
		warnings = []plan.Warning{}
	}
	respond(w, http.StatusOK, planResponse{
		RunID:    run.ID.String(),
		Dialect:  d.Name(),
		Order:    p.Order,
		Actions:  actions,
		Warnings: warnings,
		Script:   script,
	})
}
