package lsmkv

import (
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/iterators"
	"github.com/lsmkv/lsmkv/internal/memtable"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// Scan returns an iterator over every visible key in [lower, upper) as of
// the engine's current commit timestamp.
func (e *Engine) Scan(lower, upper ikey.Bound) (iterators.Iterator, error) {
	return e.ScanWithTS(lower, upper, e.mvccMgr.LatestCommitTS())
}

// ScanWithTS builds the full source stack for a scan visible at ts:
// memtable and immutable memtables merged (newest wins), L0 SSTs merged,
// each level concatenated (its SSTs are non-overlapping and sorted), the
// memtable side and the table side combined via a two-way merge with the
// memtable side winning ties, then wrapped with MVCC visibility and a
// fused guard. It implements mvcc.Store for internal/mvcc's Transaction.
func (e *Engine) ScanWithTS(lower, upper ikey.Bound, ts uint64) (iterators.Iterator, error) {
	state := e.sm.Load()
	start := iterators.LowerBoundStartKey(lower)

	memSources := make([]iterators.Iterator, 0, 1+len(state.ImmMemtables))
	memSources = append(memSources, toSliceIterator(state.Memtable.Scan(start, upper)))
	for _, mt := range state.ImmMemtables {
		memSources = append(memSources, toSliceIterator(mt.Scan(start, upper)))
	}
	memIter, err := iterators.NewMergeIterator(memSources)
	if err != nil {
		return nil, err
	}

	var tableSources []iterators.Iterator

	var l0Sources []iterators.Iterator
	for _, id := range state.L0 {
		t := state.Tables[id]
		if t == nil {
			continue
		}
		it := iterators.NewSSTIterator(t)
		if err := seekSST(it, lower); err != nil {
			return nil, err
		}
		if it.Valid() {
			l0Sources = append(l0Sources, it)
		}
	}
	if len(l0Sources) > 0 {
		l0Iter, err := iterators.NewMergeIterator(l0Sources)
		if err != nil {
			return nil, err
		}
		tableSources = append(tableSources, l0Iter)
	}

	for _, lv := range state.Levels {
		var lvTables []*sstable.Table
		for _, id := range lv.SSTIDs {
			if t := state.Tables[id]; t != nil {
				lvTables = append(lvTables, t)
			}
		}
		if len(lvTables) == 0 {
			continue
		}
		ci := iterators.NewConcatIterator(lvTables)
		if err := seekConcat(ci, lower); err != nil {
			return nil, err
		}
		if ci.Valid() {
			tableSources = append(tableSources, ci)
		}
	}
	tableIter, err := iterators.NewMergeIterator(tableSources)
	if err != nil {
		return nil, err
	}

	merged, err := iterators.NewTwoMergeIterator(memIter, tableIter)
	if err != nil {
		return nil, err
	}
	if err := iterators.SkipExcludedLowerBound(merged, lower); err != nil {
		return nil, err
	}

	lsmIt, err := iterators.NewLSMIterator(merged, ts, upper)
	if err != nil {
		return nil, err
	}
	return iterators.NewFusedIterator(lsmIt), nil
}

func toSliceIterator(entries []memtable.Entry) *iterators.SliceIterator {
	out := make([]iterators.SliceEntry, len(entries))
	for i, e := range entries {
		out[i] = iterators.SliceEntry{Key: e.Key, Value: e.Value}
	}
	return iterators.NewSliceIterator(out)
}

func seekSST(it *iterators.SSTIterator, lower ikey.Bound) error {
	if lower.Kind == ikey.Unbounded {
		return it.SeekToFirst()
	}
	return it.SeekToKey(ikey.New(lower.Key, ikey.TSMax))
}

func seekConcat(ci *iterators.ConcatIterator, lower ikey.Bound) error {
	if lower.Kind == ikey.Unbounded {
		return ci.SeekToFirst()
	}
	return ci.SeekToKey(ikey.New(lower.Key, ikey.TSMax))
}
