package compaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tieredOpts() TieredOptions {
	return TieredOptions{NumTiers: 3, MaxSizeAmplificationPercent: 200, SizeRatio: 1, MinMergeWidth: 2}
}

func tieredSnapshot(tierSizes ...int) *Snapshot {
	levels := make([]Level, len(tierSizes))
	for i, n := range tierSizes {
		ids := make([]uint32, n)
		for j := range ids {
			ids[j] = uint32(i*100 + j)
		}
		levels[i] = Level{ID: uint32(i + 1), SSTIDs: ids}
	}
	return &Snapshot{Levels: levels}
}

func TestTieredGenerateTaskBelowNumTiersDoesNothing(t *testing.T) {
	c := NewTieredController(tieredOpts())
	snap := tieredSnapshot(1, 1)

	_, ok := c.GenerateTask(snap)
	require.False(t, ok, "fewer tiers than NumTiers must not trigger compaction")
}

func TestTieredGenerateTaskTriggersOnSpaceAmplification(t *testing.T) {
	c := NewTieredController(tieredOpts())
	// upper tiers total 5 files against 1 bottom-tier file: 500% amplification.
	snap := tieredSnapshot(3, 2, 1)

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)
	tt := task.(*TieredTask)
	require.True(t, tt.BottomTierIncluded)
	require.Len(t, tt.Tiers, 3)
}

func TestTieredApplyResultCollapsesCompactedTiersIntoOneNewTier(t *testing.T) {
	c := NewTieredController(tieredOpts())
	snap := tieredSnapshot(3, 2, 1)

	task, ok := c.GenerateTask(snap)
	require.True(t, ok)

	next, obsolete := c.ApplyResult(snap, task, []uint32{999}, false)
	require.Len(t, obsolete, 6)
	require.Len(t, next.Levels, 1)
	require.Equal(t, uint32(999), next.Levels[0].ID)
	require.Equal(t, []uint32{999}, next.Levels[0].SSTIDs)
}
