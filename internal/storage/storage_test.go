package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadPlan(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	rec, err := s.SavePlan(SavedPlan{
		Name:    "fix level fk",
		RunID:   "run-1",
		Dialect: "mysql",
		Script:  "ALTER TABLE `team` DROP FOREIGN KEY `team_level_foreign`;\n",
		Report:  "1 action(s)",
		Actions: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "fix level fk", rec.Name)
	assert.Len(t, rec.Checksum, 64)

	got, script, report, err := s.LoadPlan("fix level fk")
	require.NoError(t, err)
	assert.Equal(t, rec.Checksum, got.Checksum)
	assert.Contains(t, script, "DROP FOREIGN KEY")
	assert.Equal(t, "1 action(s)", report)

	_, err = s.SavePlan(SavedPlan{Name: "fix level fk"})
	assert.ErrorIs(t, err, ErrPlanExists)

	plans, err := s.ListPlans()
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "run-1", plans[0].RunID)
}

func TestLoadPlanDetectsTampering(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	rec, err := s.SavePlan(SavedPlan{Name: "p", Script: "SELECT 1;\n", Report: "r"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(rec.ForwardFile, []byte("DROP TABLE team;\n"), 0o644))
	_, _, _, err = s.LoadPlan("p")
	assert.ErrorContains(t, err, "modified after it was saved")
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b", safeName(" a b "))
	assert.Equal(t, "_", safeName(".."))
	_, err := Open("")
	assert.Error(t, err)
}
