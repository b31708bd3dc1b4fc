// Command lsmkv-compaction-sim drives a compaction controller against a
// sequence of synthetic flushes, outside of any real engine, to visualize
// how the level/tier structure evolves. Modeled on mini-lsm's
// compaction_simulator.rs.
//
// Usage:
//
//	lsmkv-compaction-sim tiered
//	lsmkv-compaction-sim leveled
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lsmkv/lsmkv/internal/cache"
	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/iterators"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: lsmkv-compaction-sim <tiered|leveled> [iterations]")
		os.Exit(1)
	}

	iterations := 30
	if len(os.Args) >= 3 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid iteration count %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
		iterations = n
	}

	dir, err := os.MkdirTemp("", "lsmkv-compaction-sim-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	var controller compaction.Controller
	var storage *mockStorage
	switch os.Args[1] {
	case "tiered":
		storage = newMockStorage(dir, 0)
		controller = compaction.NewTieredController(compaction.TieredOptions{
			NumTiers:                    4,
			MaxSizeAmplificationPercent: 200,
			SizeRatio:                   1,
			MinMergeWidth:               2,
		})
	case "leveled":
		const maxLevels = 6
		storage = newMockStorage(dir, maxLevels)
		controller = compaction.NewLeveledController(compaction.LeveledOptions{
			LevelSizeMultiplier:            4,
			Level0FileNumCompactionTrigger: 4,
			MaxLevels:                      maxLevels,
			BaseLevelSizeMB:                0, // forces a small base target so the simulator triggers promptly
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown style %q, want tiered or leveled\n", os.Args[1])
		os.Exit(1)
	}

	for i := 0; i < iterations; i++ {
		fmt.Printf("--- iteration %d ---\n", i)
		if err := storage.flush(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if task, ok := controller.GenerateTask(storage.snapshot()); ok {
			if err := storage.runTask(controller, task); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		}
		storage.dump()
	}
}

// mockStorage plays the role of the engine's storage.Manager, minus every
// concern (memtables, WAL, manifest, locking) the controllers don't need to
// make their decisions.
type mockStorage struct {
	dir    string
	cache  *cache.Cache
	tiered bool
	nextID uint32
	l0     []uint32
	levels []compaction.Level
	tables map[uint32]*sstable.Table
}

func newMockStorage(dir string, numLevels int) *mockStorage {
	levels := make([]compaction.Level, numLevels)
	for i := range levels {
		levels[i] = compaction.Level{ID: uint32(i + 1)}
	}
	return &mockStorage{
		dir:    dir,
		cache:  cache.New(256),
		tiered: numLevels == 0,
		levels: levels,
		tables: map[uint32]*sstable.Table{},
	}
}

func (m *mockStorage) snapshot() *compaction.Snapshot {
	return &compaction.Snapshot{L0: m.l0, Levels: m.levels, Tables: m.tables}
}

// flush builds a tiny real SST (four sequential keys unique to this SST's
// id, so successive flushes cover disjoint key ranges) and pushes it onto
// L0, or in tiered mode onto the front of the tier list as a new tier.
func (m *mockStorage) flush() error {
	id := m.generateID()
	builder := sstable.NewBuilder(4096, compress.None, 10)
	for i := 0; i < 4; i++ {
		key := []byte(fmt.Sprintf("key%06d", int(id)*4+i))
		builder.Add(ikey.New(key, uint64(id)), []byte("value"))
	}
	data, _, _, _ := builder.Finish()

	path := filepath.Join(m.dir, fmt.Sprintf("%05d.sst", id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	table, err := sstable.Open(id, path, m.cache)
	if err != nil {
		return err
	}
	m.tables[id] = table
	if m.tiered {
		m.levels = append([]compaction.Level{{ID: id, SSTIDs: []uint32{id}}}, m.levels...)
	} else {
		m.l0 = append([]uint32{id}, m.l0...)
	}
	return nil
}

func (m *mockStorage) generateID() uint32 {
	m.nextID++
	return m.nextID
}

// runTask merges task's source tables for real (so output sizes reflect
// genuine compaction, not a stand-in count) and folds the result through
// the controller the same way the engine's executeAndInstall does.
func (m *mockStorage) runTask(controller compaction.Controller, task any) error {
	ids := sourceIDs(task)
	builder := sstable.NewBuilder(4096, compress.None, 10)
	seen := map[string]bool{}
	for _, id := range ids {
		t := m.tables[id]
		if t == nil {
			continue
		}
		it := iterators.NewSSTIterator(t)
		if err := it.SeekToFirst(); err != nil {
			return err
		}
		for it.Valid() {
			k := string(it.Key().UserKey)
			if !seen[k] {
				seen[k] = true
				builder.Add(it.Key(), it.Value())
			}
			if err := it.Next(); err != nil {
				return err
			}
		}
	}

	outID := m.generateID()
	data, _, _, _ := builder.Finish()
	path := filepath.Join(m.dir, fmt.Sprintf("%05d.sst", outID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	outTable, err := sstable.Open(outID, path, m.cache)
	if err != nil {
		return err
	}

	m.tables[outID] = outTable
	next, obsolete := controller.ApplyResult(m.snapshot(), task, []uint32{outID}, false)
	m.l0 = next.L0
	m.levels = next.Levels
	for _, id := range obsolete {
		if t := m.tables[id]; t != nil {
			_ = t.Close()
		}
		delete(m.tables, id)
		_ = os.Remove(filepath.Join(m.dir, fmt.Sprintf("%05d.sst", id)))
	}
	return nil
}

func sourceIDs(task any) []uint32 {
	var ids []uint32
	switch t := task.(type) {
	case *compaction.LeveledTask:
		ids = append(ids, t.UpperLevelSSTIDs...)
		ids = append(ids, t.LowerLevelSSTIDs...)
	case *compaction.SimpleLeveledTask:
		ids = append(ids, t.UpperLevelSSTIDs...)
		ids = append(ids, t.LowerLevelSSTIDs...)
	case *compaction.TieredTask:
		for _, tier := range t.Tiers {
			ids = append(ids, tier.SSTIDs...)
		}
	}
	return ids
}

func (m *mockStorage) dump() {
	fmt.Printf("L0: %v\n", m.l0)
	for _, lv := range m.levels {
		fmt.Printf("L%d: %v\n", lv.ID, lv.SSTIDs)
	}
}
