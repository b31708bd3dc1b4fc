package compaction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/sstable"
)

func simpleOpts() SimpleLeveledOptions {
	return SimpleLeveledOptions{
		SizeRatioPercent:               200,
		Level0FileNumCompactionTrigger: 2,
		MaxLevels:                      3,
	}
}

func emptySnapshot(maxLevels int) *Snapshot {
	levels := make([]Level, maxLevels)
	for i := range levels {
		levels[i] = Level{ID: uint32(i + 1)}
	}
	return &Snapshot{Levels: levels, Tables: map[uint32]*sstable.Table{}}
}

func TestSimpleLeveledGenerateTaskBelowTriggerDoesNothing(t *testing.T) {
	c := NewSimpleLeveledController(simpleOpts())
	snap := emptySnapshot(3)
	snap.L0 = []uint32{1}

	_, ok := c.GenerateTask(snap)
	require.False(t, ok, "one L0 file is below the trigger of 2")
}

func TestSimpleLeveledGenerateTaskFromL0(t *testing.T) {
	c := NewSimpleLeveledController(simpleOpts())
	snap := emptySnapshot(3)
	snap.L0 = []uint32{1, 2}

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)
	lt := task.(*SimpleLeveledTask)
	require.Nil(t, lt.UpperLevel)
	require.Equal(t, []uint32{1, 2}, lt.UpperLevelSSTIDs)
	require.Equal(t, 1, lt.LowerLevel)
	require.False(t, lt.IsLowerLevelBottomLevel)
}

func TestSimpleLeveledApplyResultMovesOutputIntoLowerLevel(t *testing.T) {
	c := NewSimpleLeveledController(simpleOpts())
	snap := emptySnapshot(3)
	snap.L0 = []uint32{1, 2}

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)

	next, obsolete := c.ApplyResult(snap, task, []uint32{10}, false)
	require.ElementsMatch(t, []uint32{1, 2}, obsolete)
	require.Empty(t, next.L0)
	require.Equal(t, []uint32{10}, next.Levels[0].SSTIDs)
}

func TestSimpleLeveledApplyResultToleratesJSONRoundTrippedTask(t *testing.T) {
	c := NewSimpleLeveledController(simpleOpts())
	snap := emptySnapshot(3)
	snap.L0 = []uint32{1, 2}

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)

	raw, err := json.Marshal(task)
	require.NoError(t, err)
	var roundTripped any
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	next, obsolete := c.ApplyResult(snap, roundTripped, []uint32{10}, true)
	require.ElementsMatch(t, []uint32{1, 2}, obsolete)
	require.Equal(t, []uint32{10}, next.Levels[0].SSTIDs)
}

func TestNoneControllerNeverGeneratesTasks(t *testing.T) {
	c := NewNoneController()
	snap := emptySnapshot(0)
	snap.L0 = []uint32{1, 2, 3}

	_, ok := c.GenerateTask(snap)
	require.False(t, ok)
}

func TestNoneControllerApplyResultFlattensEverything(t *testing.T) {
	c := NewNoneController()
	snap := &Snapshot{
		L0:     []uint32{1, 2},
		Levels: []Level{{ID: 1, SSTIDs: []uint32{3, 4}}},
		Tables: map[uint32]*sstable.Table{},
	}

	next, obsolete := c.ApplyResult(snap, nil, []uint32{99}, false)
	require.ElementsMatch(t, []uint32{1, 2, 3, 4}, obsolete)
	require.Empty(t, next.L0)
	require.Len(t, next.Levels, 1)
	require.Equal(t, []uint32{99}, next.Levels[0].SSTIDs)
}
