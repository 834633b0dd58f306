// Package journal records engine runs and their per-action outcomes in a
// PostgreSQL database.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"db_schema_reconciler/migrations"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

var ErrRunNotFound = errors.New("run not found")

// Run is one journaled engine operation.
type Run struct {
	ID         uuid.UUID      `json:"id"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	Provider   string         `json:"provider"`
	Tables     []string       `json:"tables"`
	Counts     map[string]int `json:"counts"`
	Summary    string         `json:"summary,omitempty"`
	Error      *string        `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Event is one action outcome within a run.
type Event struct {
	Table   string `json:"table"`
	Action  string `json:"action"`
	Object  string `json:"object"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

type Journal struct {
	pool   *pgxpool.Pool
	logger Logger
}

// Connect opens and pings a pgx pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse journal dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create journal pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	return pool, nil
}

// Open connects to dsn and brings the journal tables up to date.
func Open(ctx context.Context, dsn string, logger Logger) (*Journal, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	m := &migrator{pool: pool, logger: logger, fs: migrations.FS()}
	if err := m.Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{pool: pool, logger: logger}, nil
}

func (j *Journal) Close() { j.pool.Close() }

// StartRun inserts a run in status running.
func (j *Journal) StartRun(ctx context.Context, id uuid.UUID, kind, provider string, tables []string) error {
	if tables == nil {
		tables = []string{}
	}
	_, err := j.pool.Exec(ctx, `
INSERT INTO sync_runs (id, kind, status, provider, tables, started_at)
VALUES ($1, $2, 'running', $3, $4, $5)
`, id, kind, provider, tables, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordEvents appends action outcomes to a run in one transaction.
func (j *Journal) RecordEvents(ctx context.Context, runID uuid.UUID, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	var next int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_run_events WHERE run_id = $1`, runID).Scan(&next); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	for _, e := range events {
		next++
		var detail *string
		if e.Detail != "" {
			detail = &e.Detail
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO sync_run_events (id, run_id, seq, table_name, action, object, outcome, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, uuid.New(), runID, next, e.Table, e.Action, e.Object, e.Outcome, detail); err != nil {
			return fmt.Errorf("insert run event: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// FinishRun stores the final status, counts and summary of a run. A non-nil
// runErr marks the run failed.
func (j *Journal) FinishRun(ctx context.Context, id uuid.UUID, counts map[string]int, summary string, runErr error) error {
	if counts == nil {
		counts = map[string]int{}
	}
	body, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal run counts: %w", err)
	}
	summaryJSON, err := json.Marshal(map[string]string{"text": summary})
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	status := "succeeded"
	var msg *string
	if runErr != nil {
		status = "failed"
		s := runErr.Error()
		msg = &s
	}
	tag, err := j.pool.Exec(ctx, `
UPDATE sync_runs
SET status = $1, counts = $2, summary = $3, error = $4, finished_at = $5
WHERE id = $6
`, status, body, summaryJSON, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.pool.Query(ctx, `
SELECT id, kind, status, provider, tables, counts, summary->>'text', error, started_at, finished_at
FROM sync_runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r       Run
			counts  []byte
			summary *string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.Provider, &r.Tables, &counts, &summary, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(counts, &r.Counts); err != nil {
			return nil, fmt.Errorf("parse run counts: %w", err)
		}
		if summary != nil {
			r.Summary = *summary
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the events of one run in order.
func (j *Journal) Events(ctx context.Context, runID uuid.UUID) ([]Event, error) {
	rows, err := j.pool.Query(ctx, `
SELECT table_name, action, object, outcome, COALESCE(detail, '')
FROM sync_run_events
WHERE run_id = $1
ORDER BY seq
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Table, &e.Action, &e.Object, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
