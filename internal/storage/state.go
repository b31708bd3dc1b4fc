// Package storage holds the copy-on-write storage-state snapshot: the
// active memtable, the immutable memtable queue, L0, the per-level SST id
// lists, and the id→SST map. Mutations build a new State and swap it under
// a dedicated lock rather than mutating in place, so readers holding an
// older snapshot are never disturbed.
package storage

import (
	"sync"

	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/memtable"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// State is one immutable snapshot of the engine's on-disk/in-memory layout.
// Callers never mutate a State in place; they build a new one (usually via
// Clone) and hand it to Manager.Swap.
type State struct {
	Memtable     *memtable.Memtable
	ImmMemtables []*memtable.Memtable // newest first, oldest at the tail
	L0           []uint32             // newest first
	Levels       []compaction.Level   // level number (leveled/simple) or tier id (tiered)
	Tables       map[uint32]*sstable.Table
}

// NewState builds the initial empty state around an active memtable and the
// given number of fixed levels (0 for tiered/none, where Levels grows
// dynamically).
func NewState(active *memtable.Memtable, numLevels int) *State {
	levels := make([]compaction.Level, numLevels)
	for i := range levels {
		levels[i] = compaction.Level{ID: uint32(i + 1)}
	}
	return &State{
		Memtable: active,
		Levels:   levels,
		Tables:   make(map[uint32]*sstable.Table),
	}
}

// Clone returns a shallow copy suitable for in-place mutation before being
// installed via Manager.Swap: slices are copied (so appends don't alias the
// original), and the Tables map is a new map holding the same entries
// (they point to the same immutable *sstable.Table values).
func (s *State) Clone() *State {
	out := &State{
		Memtable:     s.Memtable,
		ImmMemtables: append([]*memtable.Memtable(nil), s.ImmMemtables...),
		L0:           append([]uint32(nil), s.L0...),
		Levels:       make([]compaction.Level, len(s.Levels)),
		Tables:       make(map[uint32]*sstable.Table, len(s.Tables)),
	}
	for i, lv := range s.Levels {
		out.Levels[i] = compaction.Level{ID: lv.ID, SSTIDs: append([]uint32(nil), lv.SSTIDs...)}
	}
	for id, t := range s.Tables {
		out.Tables[id] = t
	}
	return out
}

// ToSnapshot projects State into the view the compaction package's pure
// controllers operate over.
func (s *State) ToSnapshot() *compaction.Snapshot {
	return &compaction.Snapshot{
		L0:     s.L0,
		Levels: s.Levels,
		Tables: s.Tables,
	}
}

// Manager owns the copy-on-write State pointer and the coarse state_lock
// serializing structural transitions (freeze, flush install, compaction
// apply, manifest append). Readers call Load and work on the returned
// snapshot without holding any lock.
type Manager struct {
	mu        sync.RWMutex
	state     *State
	StateLock sync.Mutex
}

// NewManager wraps the given initial state.
func NewManager(initial *State) *Manager {
	return &Manager{state: initial}
}

// Load returns the current state snapshot. The caller must not mutate it.
func (m *Manager) Load() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Swap installs next as the current state. Callers performing a structural
// transition should hold StateLock across "Load, build next via Clone,
// Swap" so concurrent transitions serialize.
func (m *Manager) Swap(next *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
}
