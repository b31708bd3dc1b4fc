package compaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/cache"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

func buildTable(t *testing.T, dir string, id uint32, keys ...string) *sstable.Table {
	t.Helper()
	b := sstable.NewBuilder(4096, compress.None, 10)
	for i, k := range keys {
		b.Add(ikey.New([]byte(k), uint64(i+1)), []byte("v"))
	}
	data, _, _, _ := b.Finish()

	path := filepath.Join(dir, "table.sst")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	table, err := sstable.Open(id, path, cache.New(16))
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })
	return table
}

func leveledOpts(maxLevels int) LeveledOptions {
	return LeveledOptions{
		LevelSizeMultiplier:            4,
		Level0FileNumCompactionTrigger: 2,
		MaxLevels:                      maxLevels,
		BaseLevelSizeMB:                0,
	}
}

func TestLeveledGenerateTaskFromL0TargetsBaseLevel(t *testing.T) {
	dir := t.TempDir()
	c := NewLeveledController(leveledOpts(3))

	l0a := buildTable(t, filepath.Join(mkdir(t, dir, "a")), 1, "a", "b")
	l0b := buildTable(t, filepath.Join(mkdir(t, dir, "b")), 2, "c", "d")

	snap := &Snapshot{
		L0:     []uint32{1, 2},
		Levels: []Level{{ID: 1}, {ID: 2}, {ID: 3}},
		Tables: map[uint32]*sstable.Table{1: l0a, 2: l0b},
	}

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)
	lt := task.(*LeveledTask)
	require.Nil(t, lt.UpperLevel)
	require.ElementsMatch(t, []uint32{1, 2}, lt.UpperLevelSSTIDs)
	require.Equal(t, 3, lt.LowerLevel, "with every level empty, L0 must compact straight to the bottom level")
	require.True(t, lt.IsLowerLevelBottomLevel)
}

func TestFindOverlappingSSTsOnlyReturnsKeyRangeIntersections(t *testing.T) {
	dir := t.TempDir()
	c := NewLeveledController(leveledOpts(2))

	upper := buildTable(t, mkdir(t, dir, "u"), 1, "c", "d")
	lowerOverlap := buildTable(t, mkdir(t, dir, "lo"), 2, "d", "e")
	lowerDisjoint := buildTable(t, mkdir(t, dir, "ld"), 3, "x", "y")

	snap := &Snapshot{
		Levels: []Level{{ID: 1, SSTIDs: []uint32{1}}, {ID: 2, SSTIDs: []uint32{2, 3}}},
		Tables: map[uint32]*sstable.Table{1: upper, 2: lowerOverlap, 3: lowerDisjoint},
	}

	overlap := c.findOverlappingSSTs(snap, []uint32{1}, 2)
	require.Equal(t, []uint32{2}, overlap)
}

func TestLeveledApplyResultMovesOutputAndRemovesInputs(t *testing.T) {
	dir := t.TempDir()
	c := NewLeveledController(leveledOpts(2))

	upper := buildTable(t, mkdir(t, dir, "u"), 1, "a")
	lower := buildTable(t, mkdir(t, dir, "l"), 2, "a")
	output := buildTable(t, mkdir(t, dir, "o"), 3, "a")

	upperLevel := 1
	task := &LeveledTask{
		UpperLevel:              &upperLevel,
		UpperLevelSSTIDs:        []uint32{1},
		LowerLevel:              2,
		LowerLevelSSTIDs:        []uint32{2},
		IsLowerLevelBottomLevel: true,
	}
	snap := &Snapshot{
		Levels: []Level{{ID: 1, SSTIDs: []uint32{1}}, {ID: 2, SSTIDs: []uint32{2}}},
		Tables: map[uint32]*sstable.Table{1: upper, 2: lower, 3: output},
	}

	next, obsolete := c.ApplyResult(snap, task, []uint32{3}, false)
	require.ElementsMatch(t, []uint32{1, 2}, obsolete)
	require.Empty(t, next.Levels[0].SSTIDs)
	require.Equal(t, []uint32{3}, next.Levels[1].SSTIDs)
}

func mkdir(t *testing.T, parent, name string) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}
