package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/engine"
)

const masterDoc = `
table m_level {
    increments("id")
    string("name", 50)
}

table team {
    increments("id")
    string("name", 100)
    foreignId("level").constrained("m_level").nullable()
}
`

const liveDDL = `
CREATE TABLE m_level (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(50) NOT NULL
);
`

func newServer(t *testing.T) (*Server, db.Adapter) {
	t.Helper()
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "master.tbl")
	require.NoError(t, os.WriteFile(schemaFile, []byte(masterDoc), 0o644))

	target, err := db.Open(config.DBConfig{Provider: config.ProviderSQLite, DSN: filepath.Join(dir, "live.db")})
	require.NoError(t, err)
	t.Cleanup(func() { target.Close() })
	require.NoError(t, target.ExecScript(context.Background(), liveDDL))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(engine.Deps{
		Master: config.MasterConfig{SchemaFile: schemaFile},
		Target: target,
		Logger: logger,
	})
	require.NoError(t, err)
	return New(":0", logger, eng, target), target
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s, target := newServer(t)
	h := s.Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","db":"ok"}`, rec.Body.String())

	require.NoError(t, target.Close())
	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "service_unhealthy")
}

func TestDiffEndpoint(t *testing.T) {
	s, _ := newServer(t)
	rec := get(t, s.Handler(), "/api/diff")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body diffResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RunID)
	assert.Equal(t, []string{"m_level", "team"}, body.Tables)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "team", body.Entries[0].Table)
	assert.Equal(t, 1, body.Counts["missing_table"])
}

func TestPlanEndpoint(t *testing.T) {
	s, _ := newServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/plan")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body planResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sqlite", body.Dialect)
	require.Len(t, body.Actions, 1)
	assert.Equal(t, "create_table", string(body.Actions[0].Kind))
	assert.Equal(t, "team", body.Actions[0].Object)
	assert.Empty(t, body.Warnings)
	assert.Contains(t, body.Script, `CREATE TABLE "team"`)

	rec = get(t, h, "/api/plan?format=sql")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, body.Script, rec.Body.String())
}

func TestMetricsEndpointAfterDiff(t *testing.T) {
	s, _ := newServer(t)
	h := s.Handler()
	require.Equal(t, http.StatusOK, get(t, h, "/api/diff").Code)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `schemasync_diff_entries_total{kind="missing_table"} 1`)
}

func TestSurfaceIsReadOnly(t *testing.T) {
	s, _ := newServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
