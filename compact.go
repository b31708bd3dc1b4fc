package lsmkv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/iterators"
	"github.com/lsmkv/lsmkv/internal/logging"
	"github.com/lsmkv/lsmkv/internal/manifest"
	"github.com/lsmkv/lsmkv/internal/sstable"
	"github.com/lsmkv/lsmkv/internal/storage"
)

// fullCompactionTask marks a manifest compaction record produced by
// ForceFullCompaction, distinguishing it on recovery from a record produced
// by the engine's configured controller (whose task shape depends on
// compaction style).
type fullCompactionTask struct {
	FullCompaction bool `json:"full_compaction"`
}

// compactLoop is the background worker that asks the configured controller
// for work once per tick and executes whatever it returns.
func (e *Engine) compactLoop() {
	defer e.wg.Done()
	t := time.NewTicker(compactTickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.closeCh:
			return
		case <-t.C:
			if err := e.runOneCompactionCycle(); err != nil {
				e.opts.logger().Errorf(logging.NSCompact+"compaction failed: %v", err)
			}
		}
	}
}

func (e *Engine) runOneCompactionCycle() error {
	e.compactLock.Lock()
	defer e.compactLock.Unlock()

	state := e.sm.Load()
	task, ok := e.controller.GenerateTask(state.ToSnapshot())
	if !ok {
		return nil
	}
	return e.executeAndInstall(state, task)
}

// ForceFullCompaction flushes all pending memtables, then flattens every
// SST (L0 and every level) into a single new bottom-level run, regardless
// of the configured compaction style.
func (e *Engine) ForceFullCompaction() error {
	if err := e.ForceFlush(); err != nil {
		return err
	}
	e.compactLock.Lock()
	defer e.compactLock.Unlock()

	state := e.sm.Load()
	src, err := e.fullCompactionSources(state)
	if err != nil {
		return err
	}
	outputIDs, outputTables, err := e.mergeAndBuild(src, e.mvccMgr.Watermark(), true)
	if err != nil {
		return err
	}

	e.sm.StateLock.Lock()
	defer e.sm.StateLock.Unlock()

	cur := e.sm.Load()
	none := compaction.NewNoneController()
	nextSnap, obsolete := none.ApplyResult(cur.ToSnapshot(), nil, outputIDs, false)
	next := cur.Clone()
	next.L0 = nextSnap.L0
	next.Levels = nextSnap.Levels
	for _, t := range outputTables {
		next.Tables[t.ID] = t
	}
	for _, id := range obsolete {
		delete(next.Tables, id)
	}
	e.sm.Swap(next)

	rec, err := manifest.CompactionRecord(fullCompactionTask{FullCompaction: true}, outputIDs)
	if err != nil {
		return err
	}
	if err := e.manifest.AddRecord(rec); err != nil {
		return err
	}
	e.removeObsolete(cur, obsolete)
	return nil
}

// executeAndInstall runs task's merge against state's sources, then installs
// the output SSTs and drops the obsolete input SSTs under StateLock,
// appending the manifest compaction record last so recovery never observes
// a compaction as complete before its effects are durable.
func (e *Engine) executeAndInstall(state *storage.State, task any) error {
	outputIDs, outputTables, isBottom, err := e.runCompaction(state, task)
	if err != nil {
		return err
	}
	_ = isBottom

	e.sm.StateLock.Lock()
	defer e.sm.StateLock.Unlock()

	cur := e.sm.Load()
	// The controller may sort by the outputs' first keys, so its snapshot
	// must already hold the output tables.
	snap := cur.ToSnapshot()
	snap.Tables = make(map[uint32]*sstable.Table, len(cur.Tables)+len(outputTables))
	for id, t := range cur.Tables {
		snap.Tables[id] = t
	}
	for _, t := range outputTables {
		snap.Tables[t.ID] = t
	}
	nextSnap, obsolete := e.controller.ApplyResult(snap, task, outputIDs, false)

	next := cur.Clone()
	next.L0 = nextSnap.L0
	next.Levels = nextSnap.Levels
	for _, t := range outputTables {
		next.Tables[t.ID] = t
	}
	for _, id := range obsolete {
		delete(next.Tables, id)
	}
	e.sm.Swap(next)

	rec, err := manifest.CompactionRecord(task, outputIDs)
	if err != nil {
		return err
	}
	if err := e.manifest.AddRecord(rec); err != nil {
		return err
	}
	e.removeObsolete(cur, obsolete)
	return nil
}

// removeObsolete closes and deletes every SST id no longer referenced by
// the installed state, using prev (the state current before the swap) to
// locate the still-open *sstable.Table.
func (e *Engine) removeObsolete(prev *storage.State, ids []uint32) {
	for _, id := range ids {
		if t := prev.Tables[id]; t != nil {
			_ = t.Close()
		}
		e.blockCache.InvalidateSST(id)
		_ = os.Remove(e.sstPath(id))
	}
}

// runCompaction builds the appropriate merged source stream for task's
// concrete type and runs the GC-aware merge/build pass.
func (e *Engine) runCompaction(state *storage.State, task any) ([]uint32, []*sstable.Table, bool, error) {
	watermark := e.mvccMgr.Watermark()
	switch t := task.(type) {
	case *compaction.LeveledTask:
		src, err := e.leveledSources(state, t.UpperLevel, t.UpperLevelSSTIDs, t.LowerLevelSSTIDs)
		if err != nil {
			return nil, nil, false, err
		}
		ids, tables, err := e.mergeAndBuild(src, watermark, t.IsLowerLevelBottomLevel)
		return ids, tables, t.IsLowerLevelBottomLevel, err
	case *compaction.SimpleLeveledTask:
		src, err := e.leveledSources(state, t.UpperLevel, t.UpperLevelSSTIDs, t.LowerLevelSSTIDs)
		if err != nil {
			return nil, nil, false, err
		}
		ids, tables, err := e.mergeAndBuild(src, watermark, t.IsLowerLevelBottomLevel)
		return ids, tables, t.IsLowerLevelBottomLevel, err
	case *compaction.TieredTask:
		src, err := e.tieredSources(state, t.Tiers)
		if err != nil {
			return nil, nil, false, err
		}
		ids, tables, err := e.mergeAndBuild(src, watermark, t.BottomTierIncluded)
		return ids, tables, t.BottomTierIncluded, err
	default:
		return nil, nil, false, fmt.Errorf("lsmkv: unknown compaction task type %T", task)
	}
}

// buildSourceIterator returns an Iterator over ids' tables, positioned at
// their first entry. contiguous selects ConcatIterator (ids sorted,
// non-overlapping, as within one level) over MergeIterator (ids may
// overlap, as in L0).
func (e *Engine) buildSourceIterator(state *storage.State, ids []uint32, contiguous bool) (iterators.Iterator, error) {
	if contiguous {
		tables := make([]*sstable.Table, 0, len(ids))
		for _, id := range ids {
			if t := state.Tables[id]; t != nil {
				tables = append(tables, t)
			}
		}
		ci := iterators.NewConcatIterator(tables)
		if err := ci.SeekToFirst(); err != nil {
			return nil, err
		}
		return ci, nil
	}
	var srcs []iterators.Iterator
	for _, id := range ids {
		t := state.Tables[id]
		if t == nil {
			continue
		}
		it := iterators.NewSSTIterator(t)
		if err := it.SeekToFirst(); err != nil {
			return nil, err
		}
		srcs = append(srcs, it)
	}
	return iterators.NewMergeIterator(srcs)
}

// combineOrdered folds iters pairwise via TwoMergeIterator, left to right;
// iters[0] is treated as newest and wins ties.
func combineOrdered(iters []iterators.Iterator) (iterators.Iterator, error) {
	if len(iters) == 0 {
		return iterators.NewMergeIterator(nil)
	}
	cur := iters[0]
	for _, nxt := range iters[1:] {
		m, err := iterators.NewTwoMergeIterator(cur, nxt)
		if err != nil {
			return nil, err
		}
		cur = m
	}
	return cur, nil
}

func (e *Engine) leveledSources(state *storage.State, upperLevel *int, upperIDs, lowerIDs []uint32) (iterators.Iterator, error) {
	upperIter, err := e.buildSourceIterator(state, upperIDs, upperLevel != nil)
	if err != nil {
		return nil, err
	}
	lowerIter, err := e.buildSourceIterator(state, lowerIDs, true)
	if err != nil {
		return nil, err
	}
	return combineOrdered([]iterators.Iterator{upperIter, lowerIter})
}

func (e *Engine) tieredSources(state *storage.State, tiers []compaction.Level) (iterators.Iterator, error) {
	iters := make([]iterators.Iterator, 0, len(tiers))
	for _, tier := range tiers {
		it, err := e.buildSourceIterator(state, tier.SSTIDs, true)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return combineOrdered(iters)
}

func (e *Engine) fullCompactionSources(state *storage.State) (iterators.Iterator, error) {
	iters := make([]iterators.Iterator, 0, 1+len(state.Levels))
	l0, err := e.buildSourceIterator(state, state.L0, false)
	if err != nil {
		return nil, err
	}
	iters = append(iters, l0)
	for _, lv := range state.Levels {
		it, err := e.buildSourceIterator(state, lv.SSTIDs, true)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return combineOrdered(iters)
}

// mergeAndBuild walks src (a merged stream of raw internal keys, every
// version present) applying the version-GC rule: for each distinct
// user-key, every version with ts > watermark is kept (a live snapshot may
// still need it); among versions with ts <= watermark, only the first
// (newest) is kept, and it is dropped entirely when it is a tombstone and
// dropTombstones is set (only safe at the bottom-most compaction, where no
// older version could be exposed by removing it), or when a registered
// compaction filter matches its user-key. Output entries are packed into
// new SSTs, rolling to a new one once the current one reaches
// TargetSSTSize — deferred until the next distinct user-key, so one
// user-key's retained versions are never split across two output SSTs.
func (e *Engine) mergeAndBuild(src iterators.Iterator, watermark uint64, dropTombstones bool) ([]uint32, []*sstable.Table, error) {
	filters := e.compactionFilters()

	var outputIDs []uint32
	var outputs []*sstable.Table
	var builder *sstable.Builder
	var lastUserKey []byte
	haveLastKey := false
	keptLast := false
	pendingRoll := false

	finishCurrent := func() error {
		if builder == nil || builder.NumEntries() == 0 {
			return nil
		}
		data, _, _, _ := builder.Finish()
		id := e.nextID.Add(1)
		path := e.sstPath(id)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		t, err := sstable.Open(id, path, e.blockCache)
		if err != nil {
			return err
		}
		outputIDs = append(outputIDs, id)
		outputs = append(outputs, t)
		builder = nil
		return nil
	}

	for src.Valid() {
		k := src.Key()
		v := src.Value()

		if !haveLastKey || !bytes.Equal(lastUserKey, k.UserKey) {
			if pendingRoll {
				if err := finishCurrent(); err != nil {
					return nil, nil, err
				}
				pendingRoll = false
			}
			lastUserKey = append(lastUserKey[:0], k.UserKey...)
			haveLastKey = true
			keptLast = false
		}

		keep := true
		if k.TS <= watermark {
			if keptLast {
				keep = false
			} else {
				keptLast = true
				if dropTombstones && len(v) == 0 {
					keep = false
				} else if filterDrops(filters, k.UserKey) {
					keep = false
				}
			}
		}

		if keep {
			if builder == nil {
				builder = sstable.NewBuilder(e.opts.BlockSize, e.opts.BlockCompression, e.opts.BitsPerKey)
			}
			builder.Add(k, v)
			if builder.EstimatedSize() >= e.opts.TargetSSTSize {
				// Defer the roll until the next distinct user-key: rolling here
				// would risk splitting this key's remaining retained versions
				// across two SSTs.
				pendingRoll = true
			}
		}
		if err := src.Next(); err != nil {
			return nil, nil, err
		}
	}
	if err := finishCurrent(); err != nil {
		return nil, nil, err
	}
	return outputIDs, outputs, nil
}

func filterDrops(filters []CompactionFilter, userKey []byte) bool {
	for _, f := range filters {
		if f.Matches(userKey) {
			return true
		}
	}
	return false
}

// isFullCompactionRecord reports whether a manifest compaction record was
// produced by ForceFullCompaction rather than the configured controller.
func isFullCompactionRecord(raw json.RawMessage) bool {
	var marker fullCompactionTask
	if err := json.Unmarshal(raw, &marker); err != nil {
		return false
	}
	return marker.FullCompaction
}
