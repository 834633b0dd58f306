package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  provider: postgres
  dsn: postgres://app@localhost/scheduler
master:
  schema_file: master.tbl
  reference_data: reference.yaml
  tables: [m_level, m_room_type]
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderPostgres, cfg.Database.Provider)
	assert.Equal(t, []string{"m_level", "m_room_type"}, cfg.Master.Tables)
	assert.Equal(t, "reference.yaml", cfg.Master.ReferenceData)
	assert.Equal(t, ".schemasync", cfg.Storage.Path, "defaults survive partial files")
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  provider: mysql
  dsn: file-dsn
`)
	t.Setenv("SCHEMASYNC_DB_DSN", "env-dsn")
	t.Setenv("SCHEMASYNC_TABLES", " m_level, ,team ")
	t.Setenv("SCHEMASYNC_HTTP_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-dsn", cfg.Database.DSN)
	assert.Equal(t, []string{"m_level", "team"}, cfg.Master.Tables)
	assert.Equal(t, ":9999", cfg.HTTP.Address)
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("SCHEMASYNC_DB_PROVIDER", "sqlite")
	t.Setenv("SCHEMASYNC_DB_DSN", "file:test.db")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderSQLite, cfg.Database.Provider)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.EqualError(t, cfg.Validate(), "database.dsn is required (or SCHEMASYNC_DB_DSN)")

	cfg.Database.DSN = "x"
	require.NoError(t, cfg.Validate())

	cfg.Database.Provider = "oracle"
	assert.ErrorContains(t, cfg.Validate(), `"oracle" is not supported`)

	cfg = Default()
	cfg.Database.DSN = "x"
	cfg.LogLevel = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log_level")

	cfg.LogLevel = "info"
	cfg.LogFormat = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log_format")
	cfg.LogFormat = "Text"
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unterminated"))
	assert.ErrorContains(t, err, "parse config")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "dsn"
	raw, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Load(writeConfig(t, string(raw)))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
