package refdata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/depgraph"
)

const fixture = `
CREATE TABLE m_first_program (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(50) NOT NULL
);
CREATE TABLE m_level (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(50) NOT NULL,
  active BOOLEAN NOT NULL DEFAULT 1,
  first_program INTEGER NULL REFERENCES m_first_program (id) ON DELETE RESTRICT
);
CREATE TABLE team (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(100) NOT NULL,
  level INTEGER NULL REFERENCES m_level (id) ON DELETE RESTRICT
);
INSERT INTO m_first_program (id, name) VALUES (1, 'Discover'), (9, 'Retired');
INSERT INTO m_level (id, name, active, first_program) VALUES (1, 'Beginner', 1, 1), (2, 'Old name', 1, 1), (4, 'Legacy', 1, 9);
`

const canonical = `
meta:
  version: "2024.1"
  tables: [m_level, m_first_program]
data:
  m_first_program:
    - {id: 1, name: Discover}
  m_level:
    - {id: 1, name: Beginner, active: true, first_program: 1}
    - {id: 2, name: Advanced, active: false, first_program: 1}
    - {id: 3, name: Intermediate, active: true, first_program: null}
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openLive(t *testing.T, extra string) db.Adapter {
	t.Helper()
	a, err := db.Open(config.DBConfig{Provider: config.ProviderSQLite, DSN: filepath.Join(t.TempDir(), "live.db")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.ExecScript(context.Background(), fixture+extra))
	return a
}

func newReconciler(t *testing.T, a db.Adapter) *Reconciler {
	t.Helper()
	live, err := a.FetchSchema(context.Background(), []string{"m_first_program", "m_level", "team"})
	require.NoError(t, err)
	return New(a, live, discardLogger())
}

func mustParse(t *testing.T, text string) *Document {
	t.Helper()
	doc, err := Parse([]byte(text))
	require.NoError(t, err)
	return doc
}

// levels returns the ids of m_level and whether a row named name exists.
func levels(t *testing.T, a db.Adapter, name string) ([]string, bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := a.BeginData(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	ids, err := tx.RowIDs(ctx, "m_level", "id")
	require.NoError(t, err)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = db.FormatID(id)
	}
	n, err := tx.CountReferences(ctx, "m_level", "name", name)
	require.NoError(t, err)
	return out, n > 0
}

func TestReconcileUpdatesInsertsAndDeletes(t *testing.T) {
	a := openLive(t, `INSERT INTO team (id, name, level) VALUES (1, 'Rockets', 1);`)
	r := newReconciler(t, a)

	report, err := r.Run(context.Background(), mustParse(t, canonical))
	require.NoError(t, err)
	assert.True(t, report.Committed)
	assert.Equal(t, []TableReport{
		{Table: "m_first_program", Updated: 1, Deleted: 1},
		{Table: "m_level", Updated: 2, Inserted: 1, Deleted: 1},
	}, report.Tables)
	assert.Equal(t, TableReport{Updated: 3, Inserted: 1, Deleted: 2}, report.Totals())
	assert.Contains(t, report.Summary(), "reference data committed: updated=3 inserted=1 deleted=2")

	ids, renamed := levels(t, a, "Advanced")
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.True(t, renamed)

	// generated identifiers continue above the canonical ones
	require.NoError(t, a.Exec(context.Background(), `INSERT INTO m_level (name) VALUES ('Generated')`))
	ids, _ = levels(t, a, "Generated")
	assert.Equal(t, []string{"1", "2", "3", "5"}, ids)
}

func TestReconcileIsIdempotent(t *testing.T) {
	a := openLive(t, "")
	doc := mustParse(t, canonical)

	_, err := newReconciler(t, a).Run(context.Background(), doc)
	require.NoError(t, err)
	report, err := newReconciler(t, a).Run(context.Background(), doc)
	require.NoError(t, err)
	total := report.Totals()
	assert.Zero(t, total.Inserted)
	assert.Zero(t, total.Deleted)
	assert.Equal(t, 4, total.Updated)
}

func TestReconcileRestrictedDeleteRollsBack(t *testing.T) {
	a := openLive(t, `INSERT INTO team (id, name, level) VALUES (1, 'Rockets', 4);`)
	r := newReconciler(t, a)

	report, err := r.Run(context.Background(), mustParse(t, canonical))
	require.Error(t, err)
	var restricted *RestrictedDeleteError
	require.ErrorAs(t, err, &restricted)
	assert.Equal(t, "m_level", restricted.Table)
	assert.Equal(t, "4", restricted.ID)
	assert.Equal(t, "team", restricted.RefTable)
	assert.Equal(t, int64(1), restricted.References)

	assert.False(t, report.Committed)
	assert.False(t, report.OK())
	assert.Empty(t, report.Tables)
	assert.Contains(t, report.Summary(), "aborted, nothing changed")

	ids, renamed := levels(t, a, "Advanced")
	assert.Equal(t, []string{"1", "2", "4"}, ids)
	assert.False(t, renamed, "updates made before the failure are rolled back")
}

func TestReconcileRequiresLiveColumns(t *testing.T) {
	a := openLive(t, "")
	doc := mustParse(t, `
meta:
  tables: [m_level]
data:
  m_level:
    - {id: 1, name: Beginner, colour: red}
    - {id: 5, name: New, weight: 3}
`)
	_, err := newReconciler(t, a).Run(context.Background(), doc)
	var invalid *SchemaValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, map[string][]string{"m_level": {"colour", "weight"}}, invalid.Missing)
	assert.Contains(t, err.Error(), "run structural sync first")

	ids, _ := levels(t, a, "New")
	assert.Equal(t, []string{"1", "2", "4"}, ids)
}

func TestReconcileMissingTables(t *testing.T) {
	a := openLive(t, "")
	r := newReconciler(t, a)

	_, err := r.Run(context.Background(), mustParse(t, "meta:\n  tables: [m_level]\ndata: {}\n"))
	assert.ErrorIs(t, err, ErrMissingTable)

	_, err = r.Run(context.Background(), mustParse(t, "meta:\n  tables: [m_room]\ndata:\n  m_room:\n    - {id: 1}\n"))
	assert.ErrorIs(t, err, ErrMissingTable)

	_, err = r.Run(context.Background(), mustParse(t, "meta:\n  tables: [m_level]\ndata:\n  m_level:\n    - {name: Nameless}\n"))
	assert.ErrorContains(t, err, "identifier column id is missing")
}

func TestReconcileCycleIsFatal(t *testing.T) {
	a := openLive(t, `
CREATE TABLE m_a (id INTEGER PRIMARY KEY, b INTEGER REFERENCES m_b (id));
CREATE TABLE m_b (id INTEGER PRIMARY KEY, a INTEGER REFERENCES m_a (id));
`)
	live, err := a.FetchSchema(context.Background(), []string{"m_a", "m_b"})
	require.NoError(t, err)

	_, err = New(a, live, discardLogger()).Run(context.Background(), mustParse(t, `
meta:
  tables: [m_a, m_b]
data:
  m_a: [{id: 1}]
  m_b: [{id: 1}]
`))
	assert.True(t, errors.Is(err, depgraph.ErrCycleDetected))
}

func TestPreviewRollsBack(t *testing.T) {
	a := openLive(t, "")
	report, err := newReconciler(t, a).Preview(context.Background(), mustParse(t, canonical))
	require.NoError(t, err)
	assert.False(t, report.Committed)
	assert.Equal(t, 1, report.Totals().Inserted)
	assert.Contains(t, report.Summary(), "preview, rolled back")

	ids, _ := levels(t, a, "Advanced")
	assert.Equal(t, []string{"1", "2", "4"}, ids)
}

// failingFollowUp commits the wrapped transaction and then reports a failed
// follow-up statement, as the MySQL identity raise can.
type failingFollowUp struct {
	db.DataTx
}

func (f failingFollowUp) Commit() error {
	if err := f.DataTx.Commit(); err != nil {
		return err
	}
	return &db.PostCommitError{Err: errors.New(`after commit "ALTER TABLE m_level AUTO_INCREMENT = 4": denied`)}
}

type followUpStore struct {
	db.Adapter
}

func (s followUpStore) BeginData(ctx context.Context) (db.DataTx, error) {
	tx, err := s.Adapter.BeginData(ctx)
	if err != nil {
		return nil, err
	}
	return failingFollowUp{tx}, nil
}

func TestRunReportsFollowUpFailureAsCommitted(t *testing.T) {
	a := openLive(t, "")
	live, err := a.FetchSchema(context.Background(), []string{"m_first_program", "m_level", "team"})
	require.NoError(t, err)

	report, err := New(followUpStore{a}, live, discardLogger()).Run(context.Background(), mustParse(t, canonical))
	require.NoError(t, err)
	assert.True(t, report.Committed)
	assert.True(t, report.OK())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "AUTO_INCREMENT")
	assert.Contains(t, report.Summary(), "reference data committed")
	assert.Contains(t, report.Summary(), "warning: after commit")
	assert.NotContains(t, report.Summary(), "nothing changed")

	ids, advanced := levels(t, a, "Advanced")
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.True(t, advanced)
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"meta": {"tables": ["m_level"]}, "data": {"m_level": [{"id": 7, "name": "Pro"}]}}`), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"m_level"}, doc.Meta.Tables)
	assert.Equal(t, 1, doc.RowCount())
	id, ok := integerID(doc.Data["m_level"][0]["id"])
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, err = Parse([]byte("meta:\n  tables: [a, a]\n"))
	assert.ErrorContains(t, err, "lists a twice")
	_, err = Parse([]byte("data: {}\n"))
	assert.ErrorContains(t, err, "meta.tables is empty")
}
