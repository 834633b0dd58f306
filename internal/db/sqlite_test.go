package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/schema"
)

const sqliteFixture = `
CREATE TABLE m_level (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(100) NOT NULL DEFAULT 'Unnamed',
  active BOOLEAN NOT NULL DEFAULT 1
);
CREATE TABLE team (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name VARCHAR(100) NOT NULL,
  level INTEGER NULL REFERENCES m_level (id) ON DELETE RESTRICT
);
CREATE INDEX team_name_index ON team (name);
CREATE UNIQUE INDEX team_level_name_unique ON team (level, name);
INSERT INTO m_level (id, name, active) VALUES (1, 'Beginner', 1), (2, 'Advanced', 0), (4, 'Legacy', 1);
INSERT INTO team (id, name, level) VALUES (1, 'Rockets', 1);
`

func openSQLite(t *testing.T) *SQLiteAdapter {
	t.Helper()
	a, err := Open(config.DBConfig{Provider: config.ProviderSQLite, DSN: filepath.Join(t.TempDir(), "live.db")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.ExecScript(context.Background(), sqliteFixture))
	return a.(*SQLiteAdapter)
}

func TestSQLiteFetchSchema(t *testing.T) {
	a := openSQLite(t)
	snap, err := a.FetchSchema(context.Background(), []string{"m_level", "team", "missing", "team"})
	require.NoError(t, err)
	assert.Equal(t, schema.OriginLive, snap.Origin())
	assert.Equal(t, []string{"m_level", "team"}, snap.Names())

	level, _ := snap.Table("m_level")
	assert.Equal(t, []string{"id"}, level.PrimaryKey)
	id, _ := level.Column("id")
	assert.True(t, id.AutoIncrement)
	assert.False(t, id.Nullable)
	name, _ := level.Column("name")
	assert.Equal(t, schema.KindString, name.Type.Kind)
	assert.Equal(t, 100, name.Type.Length)
	assert.Equal(t, schema.StringDefault("Unnamed"), name.Default)
	active, _ := level.Column("active")
	assert.Equal(t, schema.BoolDefault(true), active.Default)

	team, _ := snap.Table("team")
	require.Len(t, team.ForeignKeys, 1)
	assert.Equal(t, schema.ForeignKey{
		Name: "team_level_foreign", Column: "level", RefTable: "m_level", RefColumn: "id", OnDelete: schema.RuleRestrict,
	}, team.ForeignKeys[0])
	levelCol, _ := team.Column("level")
	assert.True(t, levelCol.Nullable)

	require.Len(t, team.Indexes, 2)
	assert.Equal(t, schema.Index{Name: "team_level_name_unique", Columns: []string{"level", "name"}, Unique: true}, team.Indexes[0])
	assert.Equal(t, schema.Index{Name: "team_name_index", Columns: []string{"name"}}, team.Indexes[1])
	require.NoError(t, snap.Validate())
}

func TestSQLiteCountOrphans(t *testing.T) {
	a := openSQLite(t)
	ctx := context.Background()
	fk := schema.ForeignKey{Name: "team_level_foreign", Column: "level", RefTable: "m_level", RefColumn: "id"}

	n, err := a.CountOrphans(ctx, "team", fk)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, a.Exec(ctx, `PRAGMA foreign_keys = OFF`))
	require.NoError(t, a.Exec(ctx, `INSERT INTO team (id, name, level) VALUES (2, 'Ghosts', 99), (3, 'Free', NULL)`))
	n, err = a.CountOrphans(ctx, "team", fk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteDataTx(t *testing.T) {
	a := openSQLite(t)
	ctx := context.Background()

	tx, err := a.BeginData(ctx)
	require.NoError(t, err)

	ids, err := tx.RowIDs(ctx, "m_level", "id")
	require.NoError(t, err)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = FormatID(id)
	}
	assert.Equal(t, []string{"1", "2", "4"}, keys)

	require.NoError(t, tx.RaiseIdentity(ctx, "m_level", "id", 10))

	n, err := tx.Update(ctx, "m_level", "id", 2, map[string]any{"id": 2, "name": "Expert", "active": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tx.Update(ctx, "m_level", "id", 3, map[string]any{"id": 3, "name": "Nobody"})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, tx.Insert(ctx, "m_level", map[string]any{"id": 3, "name": "Intermediate", "active": 1}))

	refs, err := tx.CountReferences(ctx, "team", "level", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refs)

	n, err = tx.Delete(ctx, "m_level", "id", ids[2])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit())

	var name string
	require.NoError(t, a.db.QueryRow(`SELECT name FROM m_level WHERE id = 2`).Scan(&name))
	assert.Equal(t, "Expert", name)

	require.NoError(t, a.Exec(ctx, `INSERT INTO m_level (name) VALUES ('Generated')`))
	var generated int64
	require.NoError(t, a.db.QueryRow(`SELECT id FROM m_level WHERE name = 'Generated'`).Scan(&generated))
	assert.Equal(t, int64(10), generated)
}

func TestSQLiteDataTxRollback(t *testing.T) {
	a := openSQLite(t)
	ctx := context.Background()

	tx, err := a.BeginData(ctx)
	require.NoError(t, err)
	_, err = tx.Delete(ctx, "m_level", "id", 4)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, a.db.QueryRow(`SELECT COUNT(*) FROM m_level`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestSQLiteApplyDialectStatements(t *testing.T) {
	a := openSQLite(t)
	ctx := context.Background()
	d := a.Dialect()

	room := schema.Table{
		Name: "room",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Simple(schema.KindUnsignedInteger), AutoIncrement: true},
			{Name: "name", Type: schema.String(100), Default: schema.StringDefault("Unnamed Room")},
			{Name: "level", Type: schema.Simple(schema.KindUnsignedInteger), Nullable: true},
		},
		PrimaryKey:  []string{"id"},
		ForeignKeys: []schema.ForeignKey{{Name: "room_level_foreign", Column: "level", RefTable: "m_level", RefColumn: "id", OnDelete: schema.RuleCascade}},
		Indexes:     []schema.Index{{Name: "room_name_index", Columns: []string{"name"}}},
	}
	stmts, err := d.CreateTable(room)
	require.NoError(t, err)
	for _, s := range stmts {
		require.NoError(t, a.Exec(ctx, s), s)
	}
	add, err := d.AddColumn("room", schema.Column{Name: "capacity", Type: schema.Simple(schema.KindInteger), Nullable: true})
	require.NoError(t, err)
	require.NoError(t, a.Exec(ctx, add[0]))

	snap, err := a.FetchSchema(ctx, []string{"room"})
	require.NoError(t, err)
	got, ok := snap.Table("room")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name", "level", "capacity"}, got.ColumnNames())
	require.Len(t, got.ForeignKeys, 1)
	assert.Equal(t, schema.RuleCascade, got.ForeignKeys[0].OnDelete)
	name, _ := got.Column("name")
	assert.Equal(t, schema.StringDefault("Unnamed Room"), name.Default)
	assert.False(t, name.Nullable)
}
