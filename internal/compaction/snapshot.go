// Package compaction implements the four compaction controllers (leveled,
// tiered, simple-leveled, none) as pure generate-task / apply-result
// functions over an immutable Snapshot, so the same logic drives both live
// background compaction and manifest-replay recovery.
package compaction

import "github.com/lsmkv/lsmkv/internal/sstable"

// Level is one on-disk sorted run. For leveled and simple-leveled
// compaction, ID is the 1-based level number. For tiered compaction, ID is
// the tier identifier (the smallest SST id produced by the compaction that
// created the tier).
type Level struct {
	ID      uint32
	SSTIDs  []uint32
}

// Snapshot is the read-only view of on-disk structure a controller needs to
// decide what to compact next. Tables provides metadata lookup (size,
// first/last key) by SST id; Snapshot never mutates it.
type Snapshot struct {
	L0     []uint32
	Levels []Level
	Tables map[uint32]*sstable.Table
}

// Clone returns a deep-enough copy for a controller to mutate while
// producing its updated Snapshot (Tables is shared, since apply-result never
// changes table contents, only which ids belong to which level).
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		L0:     append([]uint32(nil), s.L0...),
		Levels: make([]Level, len(s.Levels)),
		Tables: s.Tables,
	}
	for i, lv := range s.Levels {
		out.Levels[i] = Level{ID: lv.ID, SSTIDs: append([]uint32(nil), lv.SSTIDs...)}
	}
	return out
}

func (s *Snapshot) tableSize(id uint32) uint64 {
	t := s.Tables[id]
	if t == nil {
		return 0
	}
	return uint64(t.Size())
}

func removeIDs(ids []uint32, remove map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if !remove[id] {
			out = append(out, id)
		}
	}
	return out
}

func toSet(ids []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Controller is implemented by each of the four compaction strategies.
// GenerateTask returns (task, true) when compaction should run, else
// (nil, false). ApplyResult folds a completed task's output SST ids into
// snap, returning the updated snapshot and the ids of SSTs that are now
// obsolete and may be deleted. task is whatever concrete *Task type the same
// controller produced (round-tripped through manifest JSON on recovery, so
// ApplyResult must tolerate a freshly json.Unmarshal'd value too).
type Controller interface {
	GenerateTask(snap *Snapshot) (task any, ok bool)
	ApplyResult(snap *Snapshot, task any, output []uint32, inRecovery bool) (*Snapshot, []uint32)
}
