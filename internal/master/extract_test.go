package master

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/internal/schema"
)

func TestExtractFile(t *testing.T) {
	snap, err := ExtractFile("testdata/event_schema.tbl")
	require.NoError(t, err)
	assert.Equal(t, schema.OriginMaster, snap.Origin())
	assert.Equal(t, []string{"event", "m_first_program", "m_level", "room", "team"}, snap.Names())

	event, ok := snap.Table("event")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "name", "date", "level", "fee", "status", "created_at", "updated_at"}, event.ColumnNames())
	assert.Equal(t, []string{"id"}, event.PrimaryKey)

	id, _ := event.Column("id")
	assert.True(t, id.AutoIncrement)
	assert.Equal(t, schema.KindUnsignedInteger, id.Type.Kind)

	level, _ := event.Column("level")
	assert.True(t, level.Nullable)
	require.Len(t, event.ForeignKeys, 1)
	assert.Equal(t, schema.ForeignKey{
		Name: "event_level_foreign", Column: "level", RefTable: "m_level", RefColumn: "id", OnDelete: schema.RuleRestrict,
	}, event.ForeignKeys[0])

	fee, _ := event.Column("fee")
	assert.Equal(t, schema.Decimal(8, 2), fee.Type)

	status, _ := event.Column("status")
	assert.Equal(t, schema.Enum("draft", "published", "archived"), status.Type)
	assert.Equal(t, schema.StringDefault("draft"), status.Default)

	created, _ := event.Column("created_at")
	assert.True(t, created.Nullable)
	assert.Equal(t, schema.KindTimestamp, created.Type.Kind)
}

func TestExtractForeignKeysAndIndexes(t *testing.T) {
	snap, err := ExtractFile("testdata/event_schema.tbl")
	require.NoError(t, err)

	team, _ := snap.Table("team")
	require.Len(t, team.ForeignKeys, 2)
	assert.Equal(t, schema.RuleCascade, team.ForeignKeys[0].OnDelete)
	assert.Equal(t, "team_first_program_foreign", team.ForeignKeys[1].Name)
	assert.Equal(t, schema.RuleRestrict, team.ForeignKeys[1].OnDelete)

	idx, ok := team.Index("team_name_index")
	require.True(t, ok)
	assert.False(t, idx.Unique)
	uniq, ok := team.Index("team_event_name_unique")
	require.True(t, ok)
	assert.True(t, uniq.Unique)
	assert.Equal(t, []string{"event", "name"}, uniq.Columns)

	room, _ := snap.Table("room")
	assert.Equal(t, schema.RuleSetNull, room.ForeignKeys[0].OnDelete)
	_, ok = room.Index("room_event_index")
	assert.True(t, ok)

	name, _ := room.Column("name")
	assert.Equal(t, schema.String(100), name.Type)
	assert.False(t, name.Nullable)
	assert.Equal(t, schema.StringDefault("Unnamed Room"), name.Default)

	opened, _ := room.Column("opened_at")
	assert.Equal(t, schema.ExpressionDefault("CURRENT_TIMESTAMP"), opened.Default)

	level, _ := snap.Table("m_level")
	active, _ := level.Column("active")
	assert.Equal(t, schema.BoolDefault(true), active.Default)
}

func TestExtractDeleteRuleSpellings(t *testing.T) {
	src := `
table a {
    increments("id")
    unsignedInteger("b").nullable()
    unsignedInteger("c").nullable()
    unsignedInteger("d")
    foreign("b").references("id").on("x").onDelete("SET_NULL")
    foreign("c").references("id").on("y").nullOnDelete()
    foreign("d").references("id").on("z").onDelete("no action")
}`
	snap, err := Extract(src, "rules")
	require.NoError(t, err)
	a, _ := snap.Table("a")
	require.Len(t, a.ForeignKeys, 3)
	assert.Equal(t, schema.RuleSetNull, a.ForeignKeys[0].OnDelete)
	assert.Equal(t, schema.RuleSetNull, a.ForeignKeys[1].OnDelete)
	assert.Equal(t, schema.RuleRestrict, a.ForeignKeys[2].OnDelete)
}

func TestExtractReportsBrokenTablesAndKeepsTheRest(t *testing.T) {
	src := `
table good {
    increments("id")
}

table broken {
    increments("id")
    enum("kind", "not-a-list")
}

table unknown_type {
    increments("id")
    geometry("shape")
}

table also_good {
    increments("id")
    string("label")
}`
	snap, err := Extract(src, "mixed")
	require.Error(t, err)
	assert.Equal(t, []string{"also_good", "good"}, snap.Names())
	assert.ElementsMatch(t, []string{"broken", "unknown_type"}, FailedTables(err))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "broken", pe.Table)
	assert.Equal(t, 8, pe.Line)
	assert.Contains(t, err.Error(), "unknown declaration geometry()")

	label, _ := must(t, snap, "also_good").Column("label")
	assert.Equal(t, schema.DefaultStringLength, label.Type.Length)
}

func TestExtractDuplicateTableBlock(t *testing.T) {
	src := `
table team { increments("id") }
table other { increments("id") }
table team { increments("id") string("name") }`
	snap, err := Extract(src, "dup")
	require.Error(t, err)
	assert.Equal(t, []string{"other"}, snap.Names())
	assert.Equal(t, []string{"team"}, FailedTables(err))
	assert.Contains(t, err.Error(), "defined 2 times")
}

func TestExtractValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "fk on missing column",
			src:  `table t { increments("id") foreign("nope").references("id").on("x") }`,
			want: "column nope does not exist",
		},
		{
			name: "two identifiers",
			src:  `table t { increments("id") integer("n").autoIncrement() }`,
			want: "primary key already declared",
		},
		{
			name: "index on missing column",
			src:  `table t { increments("id") index(["a", "b"], "t_ab") }`,
			want: "index t_ab: column a does not exist",
		},
		{
			name: "duplicate column",
			src:  `table t { increments("id") string("id") }`,
			want: "column id declared twice",
		},
		{
			name: "fk without target",
			src:  `table t { increments("id") unsignedInteger("x") foreign("x").onDelete("cascade") }`,
			want: "needs references() and on()",
		},
		{
			name: "bad delete rule",
			src:  `table t { increments("id") unsignedInteger("x") foreign("x").references("id").on("y").onDelete("explode") }`,
			want: "unsupported delete rule",
		},
		{
			name: "enum repeats",
			src:  `table t { enum("s", ["a", "a"]) }`,
			want: `repeats value "a"`,
		},
		{
			name: "unknown modifier",
			src:  `table t { string("s").shiny() }`,
			want: "unknown modifier shiny()",
		},
		{
			name: "empty table",
			src:  `table t { }`,
			want: "declares no columns",
		},
		{
			name: "unterminated",
			src:  `table t { increments("id")`,
			want: "missing closing }",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.src, "case")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, []string{"t"}, FailedTables(err))
		})
	}
}

func TestExtractTopLevelGarbage(t *testing.T) {
	snap, err := Extract(`table a { increments("id") } view b {}`, "garbage")
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, snap.Names())
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, pe.Table)
	assert.Contains(t, pe.Error(), `expected table block, found "view"`)
}

func TestExtractConstrainedDefaults(t *testing.T) {
	src := `
table player {
    increments("id")
    foreignId("team_id").constrained().cascadeOnDelete()
    foreignId("coach").constrained("staff", "staff_id").nullable().nullOnDelete()
    integer("rank").unsigned().default(-1)
}`
	snap, err := Extract(src, "constrained")
	require.NoError(t, err)
	p := must(t, snap, "player")
	require.Len(t, p.ForeignKeys, 2)
	assert.Equal(t, "team", p.ForeignKeys[0].RefTable)
	assert.Equal(t, schema.RuleCascade, p.ForeignKeys[0].OnDelete)
	assert.Equal(t, "staff", p.ForeignKeys[1].RefTable)
	assert.Equal(t, "staff_id", p.ForeignKeys[1].RefColumn)
	coach, _ := p.Column("coach")
	assert.True(t, coach.Nullable)
}

func must(t *testing.T, s *schema.Snapshot, name string) schema.Table {
	t.Helper()
	tbl, ok := s.Table(name)
	require.True(t, ok, name)
	return tbl
}
