package lsmkv

import (
	"os"
	"time"

	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/logging"
	"github.com/lsmkv/lsmkv/internal/manifest"
	"github.com/lsmkv/lsmkv/internal/memtable"
	"github.com/lsmkv/lsmkv/internal/sstable"
	"github.com/lsmkv/lsmkv/internal/wal"
)

// freeze pushes the active memtable onto the immutable queue and swaps in a
// fresh one, recording the new memtable's id in the manifest before
// returning so recovery can tell a pending flush apart from one already
// complete.
func (e *Engine) freeze() error {
	e.sm.StateLock.Lock()
	defer e.sm.StateLock.Unlock()

	old := e.sm.Load()
	newID := e.nextID.Add(1)
	newMT, err := e.newActiveMemtable(newID)
	if err != nil {
		return err
	}

	next := old.Clone()
	next.ImmMemtables = append([]*memtable.Memtable{old.Memtable}, next.ImmMemtables...)
	next.Memtable = newMT
	e.sm.Swap(next)

	return e.manifest.AddRecord(manifest.NewMemtableRecord(newID))
}

// flushOldest builds an SST from the oldest immutable memtable and installs
// it at L0 (or, for tiered compaction, as a new top tier), reporting
// whether there was anything to flush.
func (e *Engine) flushOldest() (bool, error) {
	e.flushLock.Lock()
	defer e.flushLock.Unlock()

	state := e.sm.Load()
	if len(state.ImmMemtables) == 0 {
		return false, nil
	}
	oldest := state.ImmMemtables[len(state.ImmMemtables)-1]

	builder := sstable.NewBuilder(e.opts.BlockSize, e.opts.BlockCompression, e.opts.BitsPerKey)
	for _, ent := range oldest.Scan(ikey.New(nil, ikey.TSMax), ikey.UnboundedBound()) {
		builder.Add(ent.Key, ent.Value)
	}
	data, _, _, _ := builder.Finish()

	// The flushed memtable's own id becomes its SST's id: a manifest flush
	// record's id alone then identifies which memtable was retired.
	sstID := oldest.ID
	path := e.sstPath(sstID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	table, err := sstable.Open(sstID, path, e.blockCache)
	if err != nil {
		return false, err
	}

	e.sm.StateLock.Lock()
	defer e.sm.StateLock.Unlock()

	next := e.sm.Load().Clone()
	next.ImmMemtables = next.ImmMemtables[:len(next.ImmMemtables)-1]
	next.Tables[sstID] = table
	if e.opts.Compaction.Style == CompactionStyleTiered {
		next.Levels = append([]compaction.Level{{ID: sstID, SSTIDs: []uint32{sstID}}}, next.Levels...)
	} else {
		next.L0 = append([]uint32{sstID}, next.L0...)
	}
	e.sm.Swap(next)

	if err := e.manifest.AddRecord(manifest.FlushRecord(sstID)); err != nil {
		return false, err
	}
	if err := oldest.CloseWAL(); err != nil {
		return true, err
	}
	if e.opts.EnableWAL {
		_ = wal.Remove(e.walPath(oldest.ID))
	}
	return true, nil
}

// ForceFlush freezes the active memtable (if non-empty) and flushes every
// immutable memtable to an SST, blocking until the queue is empty.
func (e *Engine) ForceFlush() error {
	if e.sm.Load().Memtable.ApproximateSize() > 0 {
		if err := e.freeze(); err != nil {
			return err
		}
	}
	for {
		flushed, err := e.flushOldest()
		if err != nil {
			return err
		}
		if !flushed {
			return nil
		}
	}
}

// shouldFlush reports whether the immutable memtable queue has backed up to
// NumMemtableLimit, the trigger the background flush loop waits for before
// flushing the oldest immutable memtable.
func (e *Engine) shouldFlush() bool {
	return len(e.sm.Load().ImmMemtables) >= e.opts.NumMemtableLimit
}

// flushLoop is the background worker that drains the immutable memtable
// queue one SST at a time, once it has backed up to NumMemtableLimit.
func (e *Engine) flushLoop() {
	defer e.wg.Done()
	t := time.NewTicker(flushTickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.closeCh:
			return
		case <-t.C:
			if !e.shouldFlush() {
				continue
			}
			if _, err := e.flushOldest(); err != nil {
				e.opts.logger().Errorf(logging.NSFlush+"flush failed: %v", err)
			}
		}
	}
}
