package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/plan"
)

func archiveFixture() *plan.HierarchicalPlan {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ground := &plan.MonolevelPlan{
		Level:  1,
		Number: 1,
		RunID:  "run-1",
		Steps: []plan.ActionSet{
			{{Name: "step_p0_p1", Level: 1}},
			{{Name: "step_p1_p2", Level: 1}},
			{{Name: "step_p2_p3", Level: 1}},
			{{Name: "step_p3_p4", Level: 1}},
		},
		AchievedAt: map[int]int{1: 2, 2: 4},
		IsFinal:    true,
	}
	abstract := &plan.MonolevelPlan{
		Level:  2,
		Number: 1,
		RunID:  "run-1",
		Steps: []plan.ActionSet{
			{{Name: "goto_r2", Level: 2}},
			{{Name: "goto_r3", Level: 2}},
		},
		IsFinal: true,
	}
	return &plan.HierarchicalPlan{
		RunID:    "run-1",
		Levels:   map[int]*plan.MonolevelPlan{1: ground, 2: abstract},
		Partials: map[int][]*plan.MonolevelPlan{1: {ground, ground}, 2: {abstract}},
		Yields:   map[int][]time.Duration{1: {10 * time.Millisecond, 30 * time.Millisecond}},
		Started:  started,
		Finished: started.Add(time.Second),
	}
}

func TestArchiveSaveAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "archive.db")
	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.SaveRun(archiveFixture(), "corridor", "ground-first", "complete"))

	runs, err := archive.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "corridor", r.Domain)
	assert.Equal(t, "ground-first", r.Method)
	assert.Equal(t, "complete", r.Status)
	assert.Equal(t, 4, r.GroundSteps)
	assert.Equal(t, 4, r.GroundActs)
	assert.Equal(t, 10*time.Millisecond, r.Latency)
	assert.Equal(t, 20*time.Millisecond, r.AverageYield)
}

func TestArchiveLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.SaveRun(archiveFixture(), "corridor", "hybrid", "complete"))

	levels, err := archive.Levels("run-1")
	require.NoError(t, err)
	require.Len(t, levels, 2)

	assert.Equal(t, 2, levels[0].Level)
	assert.Equal(t, 1, levels[1].Level)
	assert.Equal(t, 4, levels[1].Steps)
	assert.Equal(t, 2, levels[1].Partials)
	assert.InDelta(t, 2.0, levels[1].Expansion, 1e-9)

	steps, err := archive.GroundSteps("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[step_p0_p1]", "[step_p1_p2]", "[step_p2_p3]", "[step_p3_p4]",
	}, steps)
}

func TestArchiveResaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	h := archiveFixture()
	require.NoError(t, archive.SaveRun(h, "corridor", "ground-first", "failed"))
	require.NoError(t, archive.SaveRun(h, "corridor", "ground-first", "complete"))

	runs, err := archive.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "complete", runs[0].Status)
}

func TestArchiveUnknownRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := Open(path)
	require.NoError(t, err)
	defer archive.Close()

	levels, err := archive.Levels("missing")
	require.NoError(t, err)
	assert.Empty(t, levels)

	steps, err := archive.GroundSteps("missing")
	require.NoError(t, err)
	assert.Nil(t, steps)
}
