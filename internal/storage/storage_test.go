package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/memtable"
)

func TestNewStatePreSizesLevelsWithSequentialIDs(t *testing.T) {
	s := NewState(memtable.New(1, nil), 4)
	require.Len(t, s.Levels, 4)
	for i, lv := range s.Levels {
		require.Equal(t, uint32(i+1), lv.ID)
		require.Empty(t, lv.SSTIDs)
	}
}

func TestNewStateWithZeroLevelsLeavesLevelsEmptyForTieredOrNone(t *testing.T) {
	s := NewState(memtable.New(1, nil), 0)
	require.Empty(t, s.Levels)
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	s := NewState(memtable.New(1, nil), 2)
	s.L0 = []uint32{1, 2}
	s.Levels[0].SSTIDs = []uint32{10}
	s.Tables[10] = nil

	clone := s.Clone()
	clone.L0 = append(clone.L0, 3)
	clone.Levels[0].SSTIDs = append(clone.Levels[0].SSTIDs, 11)
	clone.Tables[99] = nil

	require.Equal(t, []uint32{1, 2}, s.L0, "mutating the clone's L0 must not alias the source")
	require.Equal(t, []uint32{10}, s.Levels[0].SSTIDs, "mutating the clone's level must not alias the source")
	require.NotContains(t, s.Tables, uint32(99), "adding to the clone's Tables must not affect the source")

	require.Equal(t, []uint32{1, 2, 3}, clone.L0)
	require.Equal(t, []uint32{10, 11}, clone.Levels[0].SSTIDs)
}

func TestCloneCopiesImmMemtablesSliceButNotEntries(t *testing.T) {
	mt := memtable.New(2, nil)
	s := NewState(memtable.New(1, nil), 0)
	s.ImmMemtables = []*memtable.Memtable{mt}

	clone := s.Clone()
	clone.ImmMemtables = append(clone.ImmMemtables, memtable.New(3, nil))

	require.Len(t, s.ImmMemtables, 1, "appending to the clone's queue must not affect the source")
	require.Same(t, mt, clone.ImmMemtables[0], "the memtable pointer itself is shared, not copied")
}

func TestToSnapshotProjectsL0LevelsAndTables(t *testing.T) {
	s := NewState(memtable.New(1, nil), 1)
	s.L0 = []uint32{5}
	s.Levels[0].SSTIDs = []uint32{6}
	s.Tables[6] = nil

	snap := s.ToSnapshot()
	require.Equal(t, []uint32{5}, snap.L0)
	require.Equal(t, []compaction.Level{{ID: 1, SSTIDs: []uint32{6}}}, snap.Levels)
	require.Contains(t, snap.Tables, uint32(6))
}

func TestManagerSwapIsVisibleToSubsequentLoadButNotPriorSnapshots(t *testing.T) {
	initial := NewState(memtable.New(1, nil), 0)
	m := NewManager(initial)

	held := m.Load()
	require.Same(t, initial, held)

	next := initial.Clone()
	next.L0 = []uint32{7}
	m.Swap(next)

	require.Same(t, initial, held, "a State obtained from an earlier Load must never change underfoot")
	require.Empty(t, held.L0)

	require.Same(t, next, m.Load(), "Load after Swap must return the newly installed state")
	require.Equal(t, []uint32{7}, m.Load().L0)
}
