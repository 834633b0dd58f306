package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestPromptYes(t *testing.T) {
	cases := map[string]bool{
		"YES\n":   true,
		"yes\n":   true,
		"  Yes  ": true,
		"y\n":     false,
		"\n":      false,
		"no\n":    false,
	}
	for in, want := range cases {
		var out bytes.Buffer
		ok, err := promptYes(strings.NewReader(in), &out, "Continue? ")
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, ok, "input %q", in)
		assert.Equal(t, "Continue? ", out.String())
	}

	_, err := promptYes(strings.NewReader(""), &bytes.Buffer{}, "Continue? ")
	assert.Error(t, err)
}

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

const referenceDoc = `
meta:
  tables: [m_level]
data:
  m_level:
    - {id: 1, name: Beginner}
    - {id: 2, name: Advanced}
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "live.db")
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}
	schemaFile := write("master.tbl", masterDoc)
	dataFile := write("reference.yaml", referenceDoc)
	cfgFile := write("schemasync.yaml", fmt.Sprintf(`
database:
  provider: sqlite
  dsn: %s
master:
  schema_file: %s
storage:
  path: %s
log_level: error
`, live, schemaFile, filepath.Join(dir, "store")))

	raw, err := sql.Open("sqlite", live)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE m_level (id INTEGER PRIMARY KEY AUTOINCREMENT, name VARCHAR(50) NOT NULL);
INSERT INTO m_level (id, name) VALUES (1, 'Beginner'), (7, 'Unused');`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	out, err := execute(t, "", "extract", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "2 table(s)")

	out, err = execute(t, "", "diff", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "team: table missing in live")

	out, err = execute(t, "", "plan", "--config", cfgFile, "--save", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "1 action(s)")
	assert.Contains(t, out, "plan saved as first")

	out, err = execute(t, "", "plans", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "sqlite")

	out, err = execute(t, "no\n", "sync", "--config", cfgFile)
	assert.EqualError(t, err, "aborted by user")
	assert.Contains(t, out, "Type YES to continue")

	out, err = execute(t, "YES\n", "sync", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "applied=1")

	out, err = execute(t, "", "diff", "--config", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "schemas match")

	out, err = execute(t, "", "reconcile", "--config", cfgFile, "--data", dataFile, "--approve")
	require.NoError(t, err)
	assert.Contains(t, out, "reference data preview, rolled back: updated=1 inserted=1 deleted=1")
	assert.Contains(t, out, "reference data committed: updated=1 inserted=1 deleted=1")
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemasync.yaml")
	out, err := execute(t, "", "init-config", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sample config written to")
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "schema_file: schema/master.tbl")

	_, err = execute(t, "", "init-config", "--path", path)
	assert.Error(t, err)
}
