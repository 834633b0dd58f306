package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"testing/fstest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/migrations"
)

func TestParseVersion(t *testing.T) {
	v, name, err := parseVersion("migrations/0002_sync_run_events.sql")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, "sync_run_events", name)

	_, _, err = parseVersion("init.sql")
	assert.Error(t, err)
	_, _, err = parseVersion("x_init.sql")
	assert.Error(t, err)
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 2;")},
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"README.md":  {Data: []byte("docs")},
	}
	files, err := pending(fsys, map[int64]bool{1: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.sql"}, files)

	files, err = pending(migrations.FS(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_sync_runs.sql", "0002_sync_run_events.sql"}, files)
}

// TestJournalPostgres runs against a real database when TEST_PG_DSN is set.
func TestJournalPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	j, err := Open(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer j.Close()

	id := uuid.New()
	require.NoError(t, j.StartRun(ctx, id, "sync", "mysql", []string{"team"}))
	require.NoError(t, j.RecordEvents(ctx, id, []Event{
		{Table: "team", Action: "add_column", Object: "level", Outcome: "applied"},
		{Table: "team", Action: "add_foreign_key", Object: "team_level_foreign", Outcome: "blocked", Detail: "2 orphaned row(s)"},
	}))
	require.NoError(t, j.FinishRun(ctx, id, map[string]int{"applied": 1, "blocked": 1}, "applied=1 blocked=1", errors.New("boom")))

	runs, err := j.ListRuns(ctx, 50)
	require.NoError(t, err)
	var found *Run
	for i := range runs {
		if runs[i].ID == id {
			found = &runs[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "failed", found.Status)
	assert.Equal(t, 1, found.Counts["blocked"])
	assert.Equal(t, "applied=1 blocked=1", found.Summary)

	events, err := j.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2 orphaned row(s)", events[1].Detail)

	assert.ErrorIs(t, j.FinishRun(ctx, uuid.New(), nil, "", nil), ErrRunNotFound)
}
