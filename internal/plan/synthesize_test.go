package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_schema_reconciler/internal/db"
	"db_schema_reconciler/internal/depgraph"
	"db_schema_reconciler/internal/diff"
	"db_schema_reconciler/internal/schema"
)

type orphanCounts map[string]int64

func (o orphanCounts) CountOrphans(_ context.Context, table string, fk schema.ForeignKey) (int64, error) {
	n, ok := o[table+"."+fk.Column]
	if !ok {
		return 0, errors.New("unexpected orphan check")
	}
	return n, nil
}

func pk() schema.Column {
	return schema.Column{Name: "id", Type: schema.Simple(schema.KindUnsignedInteger), AutoIncrement: true}
}

func programFK(rule schema.DeleteRule) schema.ForeignKey {
	return schema.ForeignKey{Name: "team_first_program_foreign", Column: "first_program", RefTable: "m_first_program", RefColumn: "id", OnDelete: rule}
}

func programTable() schema.Table {
	return schema.Table{Name: "m_first_program", Columns: []schema.Column{pk(), {Name: "name", Type: schema.String(50)}}, PrimaryKey: []string{"id"}}
}

func teamTable(fks ...schema.ForeignKey) schema.Table {
	return schema.Table{
		Name:        "team",
		Columns:     []schema.Column{pk(), {Name: "first_program", Type: schema.Simple(schema.KindUnsignedInteger), Nullable: true}},
		PrimaryKey:  []string{"id"},
		ForeignKeys: fks,
	}
}

func snapshot(origin schema.Origin, tables ...schema.Table) *schema.Snapshot {
	return schema.NewSnapshot(origin, time.Now(), tables...)
}

func synthesize(t *testing.T, master, live *schema.Snapshot, orphans OrphanCounter) *Plan {
	t.Helper()
	p, err := Synthesize(context.Background(), Input{
		Diff:    diff.Compare(master, live, nil, nil),
		Master:  master,
		Live:    live,
		Orphans: orphans,
	})
	require.NoError(t, err)
	return p
}

func kinds(p *Plan) []string {
	out := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = string(a.Kind) + " " + a.Table + "." + a.Object()
	}
	return out
}

func TestSynthesizeSkipsForeignKeyOverOrphans(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))
	live := snapshot(schema.OriginLive, programTable(), teamTable())

	p := synthesize(t, master, live, orphanCounts{"team.first_program": 3})
	assert.Empty(t, p.Actions)
	require.Len(t, p.Warnings, 1)
	assert.Equal(t, OrphanedRows, p.Warnings[0].Kind)
	assert.Contains(t, p.Warnings[0].Message, "3 row(s) in team.first_program")

	p = synthesize(t, master, live, orphanCounts{"team.first_program": 0})
	require.Len(t, p.Actions, 1)
	assert.Equal(t, AddForeignKey, p.Actions[0].Kind)
	assert.False(t, p.Actions[0].GuardOrphans)

	p = synthesize(t, master, live, nil)
	require.Len(t, p.Actions, 1)
	assert.True(t, p.Actions[0].GuardOrphans, "without a counter the check moves to apply time")
}

func TestSynthesizeGuardsForeignKeyOnNewColumn(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))
	bare := teamTable()
	bare.Columns = bare.Columns[:1]
	live := snapshot(schema.OriginLive, programTable(), bare)

	p := synthesize(t, master, live, orphanCounts{})
	assert.Equal(t, []string{
		"add_column team.first_program",
		"add_foreign_key team.team_first_program_foreign",
	}, kinds(p))
	assert.True(t, p.Actions[1].GuardOrphans)
}

func TestSynthesizeWrongRuleReplacesForeignKey(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))
	live := snapshot(schema.OriginLive, programTable(), teamTable(programFK(schema.RuleCascade)))

	p := synthesize(t, master, live, orphanCounts{})
	require.Len(t, p.Actions, 2)
	assert.Equal(t, DropForeignKey, p.Actions[0].Kind)
	assert.Equal(t, schema.RuleCascade, p.Actions[0].ForeignKey.OnDelete)
	assert.Equal(t, AddForeignKey, p.Actions[1].Kind)
	assert.Equal(t, schema.RuleRestrict, p.Actions[1].ForeignKey.OnDelete)
}

func TestSynthesizeAltersReferencedColumnAroundForeignKeys(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))

	signed := programTable()
	signed.Columns[0].Type = schema.Simple(schema.KindInteger)
	live := snapshot(schema.OriginLive, signed, teamTable(programFK(schema.RuleRestrict)))

	p := synthesize(t, master, live, orphanCounts{})
	assert.Equal(t, []string{
		"drop_foreign_key team.team_first_program_foreign",
		"modify_column m_first_program.id",
		"add_foreign_key team.team_first_program_foreign",
	}, kinds(p))
	assert.True(t, p.Actions[1].Column.AutoIncrement, "the generated flag is restated")
}

func TestSynthesizeDefersRestoreUntilReferencingColumnIsAltered(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))

	signed := programTable()
	signed.Columns[0].Type = schema.Simple(schema.KindInteger)
	signedTeam := teamTable(programFK(schema.RuleCascade))
	signedTeam.Columns[1].Type = schema.Simple(schema.KindInteger)
	live := snapshot(schema.OriginLive, signed, signedTeam)

	p := synthesize(t, master, live, orphanCounts{})
	assert.Equal(t, []string{
		"drop_foreign_key team.team_first_program_foreign",
		"modify_column m_first_program.id",
		"modify_column team.first_program",
		"add_foreign_key team.team_first_program_foreign",
	}, kinds(p))
	assert.Equal(t, schema.RuleRestrict, p.Actions[3].ForeignKey.OnDelete, "restored with the master rule")
}

func TestSynthesizeDropsForeignKeyBeforeColumn(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable())
	legacy := teamTable(programFK(schema.RuleRestrict))
	legacy.Columns = append(legacy.Columns, schema.Column{Name: "legacy_program", Type: schema.Simple(schema.KindUnsignedInteger), Nullable: true})
	legacy.ForeignKeys = append(legacy.ForeignKeys, schema.ForeignKey{
		Name: "team_legacy_program_foreign", Column: "legacy_program", RefTable: "m_first_program", RefColumn: "id", OnDelete: schema.RuleRestrict,
	})
	live := snapshot(schema.OriginLive, programTable(), legacy)

	p := synthesize(t, master, live, orphanCounts{})
	assert.Equal(t, []string{
		"drop_foreign_key team.team_legacy_program_foreign",
		"drop_column team.legacy_program",
		"drop_foreign_key team.team_first_program_foreign",
	}, kinds(p))
}

func TestSynthesizeCreatesTablesInDependencyOrder(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))
	live := snapshot(schema.OriginLive)

	p, err := Synthesize(context.Background(), Input{
		Diff:   diff.Compare(master, live, []string{"team", "m_first_program"}, nil),
		Master: master,
		Live:   live,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m_first_program", "team"}, p.Order)
	assert.Equal(t, []string{"create_table m_first_program.m_first_program", "create_table team.team"}, kinds(p))
	assert.Len(t, p.Actions[1].Definition.ForeignKeys, 1)

	stmts, err := p.Statements(db.MySQLDialect{})
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "CONSTRAINT `team_first_program_foreign` FOREIGN KEY (`first_program`) REFERENCES `m_first_program` (`id`) ON DELETE RESTRICT")
}

func TestSynthesizeIndexes(t *testing.T) {
	withIndex := teamTable()
	withIndex.Indexes = []schema.Index{{Name: "team_first_program_unique", Columns: []string{"first_program"}, Unique: true}}
	master := snapshot(schema.OriginMaster, programTable(), withIndex)

	oldIndex := teamTable()
	oldIndex.Indexes = []schema.Index{{Name: "team_old_index", Columns: []string{"first_program"}}}
	live := snapshot(schema.OriginLive, programTable(), oldIndex)

	p := synthesize(t, master, live, orphanCounts{})
	assert.Equal(t, []string{
		"drop_index team.team_old_index",
		"add_index team.team_first_program_unique",
	}, kinds(p))
}

func TestSynthesizeCycleIsFatal(t *testing.T) {
	a := schema.Table{Name: "a", Columns: []schema.Column{pk(), {Name: "b_id", Type: schema.Simple(schema.KindUnsignedInteger)}}, PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{Name: "a_b_id_foreign", Column: "b_id", RefTable: "b", RefColumn: "id", OnDelete: schema.RuleRestrict}}}
	b := schema.Table{Name: "b", Columns: []schema.Column{pk(), {Name: "a_id", Type: schema.Simple(schema.KindUnsignedInteger)}}, PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{Name: "b_a_id_foreign", Column: "a_id", RefTable: "a", RefColumn: "id", OnDelete: schema.RuleRestrict}}}
	master := snapshot(schema.OriginMaster, a, b)
	live := snapshot(schema.OriginLive)

	_, err := Synthesize(context.Background(), Input{Diff: diff.Compare(master, live, nil, nil), Master: master, Live: live})
	assert.ErrorIs(t, err, depgraph.ErrCycleDetected)
}

func TestPlanRendering(t *testing.T) {
	master := snapshot(schema.OriginMaster, programTable(), teamTable(programFK(schema.RuleRestrict)))
	live := snapshot(schema.OriginLive, programTable(), teamTable(programFK(schema.RuleCascade)))
	p := synthesize(t, master, live, orphanCounts{})

	report := p.Describe()
	assert.Contains(t, report, "2 action(s)")
	assert.Contains(t, report, "team: drop foreign key team_first_program_foreign [delete rule CASCADE, master wants RESTRICT]")

	script := p.Script(db.SQLiteDialect{})
	assert.Contains(t, script, "-- skipped: not supported by sqlite")

	_, err := p.Statements(db.SQLiteDialect{})
	assert.ErrorIs(t, err, db.ErrUnsupported)

	assert.Equal(t, "no changes", (&Plan{}).Describe())
}
