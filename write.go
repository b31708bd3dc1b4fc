package lsmkv

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/iterators"
	"github.com/lsmkv/lsmkv/internal/mvcc"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// MaxKeyLen and MaxValueLen are the largest key/value the on-disk format can
// address: both are length-prefixed with a 16-bit field.
const (
	MaxKeyLen   = 65535
	MaxValueLen = 65535
)

// Put writes key=value, visible to readers started after this call returns.
// An empty value is rejected rather than silently stored as a tombstone; use
// Delete to remove a key.
func (e *Engine) Put(key, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("lsmkv: put %q: value must not be empty, use Delete to remove a key", key)
	}
	return e.WriteBatch([]mvcc.WriteRecord{{Key: key, Value: value}})
}

// Delete writes a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	return e.WriteBatch([]mvcc.WriteRecord{{Key: key, Value: nil}})
}

// WriteBatch applies records atomically at a single freshly assigned commit
// timestamp: either every record becomes visible together, or (on error)
// none do.
func (e *Engine) WriteBatch(records []mvcc.WriteRecord) error {
	e.mvccMgr.WriteLock.Lock()
	defer e.mvccMgr.WriteLock.Unlock()

	ts := e.mvccMgr.BeginWrite()
	if err := e.applyBatch(records, ts); err != nil {
		return err
	}
	e.mvccMgr.PublishWrite(ts)
	e.maybeFreeze()
	return nil
}

// WriteBatchAtTS applies records at a caller-assigned ts, used by a
// serializable transaction's commit: mvcc.Manager.CommitSerializable holds
// WriteLock for the whole reserve-apply-publish sequence, so this call
// never races a direct WriteBatch's own ts assignment.
func (e *Engine) WriteBatchAtTS(records []mvcc.WriteRecord, ts uint64) error {
	if err := e.applyBatch(records, ts); err != nil {
		return err
	}
	e.maybeFreeze()
	return nil
}

// applyBatch inserts every record into the active memtable at ts. Every
// record, put or delete, must carry a non-empty key within the on-disk
// format's length limits; a delete's empty value is the valid tombstone
// encoding and is exempt from the empty-value check enforced by Put.
func (e *Engine) applyBatch(records []mvcc.WriteRecord, ts uint64) error {
	for _, r := range records {
		if err := validateRecord(r); err != nil {
			return err
		}
	}
	mt := e.sm.Load().Memtable
	for _, r := range records {
		if err := mt.Put(r.Key, r.Value, ts); err != nil {
			return err
		}
	}
	return nil
}

// validateRecord enforces the write path's format-level preconditions: a
// key is always required, and neither key nor value may exceed the 16-bit
// length prefix the on-disk format encodes them with.
func validateRecord(r mvcc.WriteRecord) error {
	if len(r.Key) == 0 {
		return fmt.Errorf("lsmkv: write batch: key must not be empty")
	}
	if len(r.Key) > MaxKeyLen {
		return fmt.Errorf("lsmkv: write batch: key length %d exceeds max %d", len(r.Key), MaxKeyLen)
	}
	if len(r.Value) > MaxValueLen {
		return fmt.Errorf("lsmkv: write batch: value length %d exceeds max %d", len(r.Value), MaxValueLen)
	}
	return nil
}

// maybeFreeze triggers a freeze, synchronously on the write path, once the
// active memtable has grown past TargetSSTSize. The flush of the resulting
// immutable memtable still happens in the background.
func (e *Engine) maybeFreeze() {
	if e.sm.Load().Memtable.ApproximateSize() >= int64(e.opts.TargetSSTSize) {
		_ = e.freeze()
	}
}

// Get returns the newest committed value for key, or (nil, false) if absent
// or deleted.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	return e.GetWithTS(key, e.mvccMgr.LatestCommitTS())
}

// GetWithTS returns the newest version of key with ts <= readTS: memtable,
// then immutable memtables newest-first, then L0 SSTs newest-first, then
// each level in order. It implements mvcc.Store for internal/mvcc's
// Transaction.
func (e *Engine) GetWithTS(userKey []byte, readTS uint64) ([]byte, bool, error) {
	state := e.sm.Load()

	if v, ok := state.Memtable.Get(userKey, readTS); ok {
		return tombstoneToNotFound(v)
	}
	for _, mt := range state.ImmMemtables {
		if v, ok := mt.Get(userKey, readTS); ok {
			return tombstoneToNotFound(v)
		}
	}

	for _, id := range state.L0 {
		t := state.Tables[id]
		if t == nil || !t.MayContain(userKey) {
			continue
		}
		v, ok, err := lookupInTable(t, userKey, readTS)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return tombstoneToNotFound(v)
		}
	}

	for _, lv := range state.Levels {
		idx := findTableForKey(state.Tables, lv.SSTIDs, userKey)
		if idx < 0 {
			continue
		}
		t := state.Tables[lv.SSTIDs[idx]]
		if t == nil || !t.MayContain(userKey) {
			continue
		}
		v, ok, err := lookupInTable(t, userKey, readTS)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return tombstoneToNotFound(v)
		}
	}
	return nil, false, nil
}

func tombstoneToNotFound(v []byte) ([]byte, bool, error) {
	if len(v) == 0 {
		return nil, false, nil
	}
	return v, true, nil
}

// lookupInTable seeks to the newest version of userKey with ts <= readTS
// within a single SST.
func lookupInTable(t *sstable.Table, userKey []byte, readTS uint64) ([]byte, bool, error) {
	it := iterators.NewSSTIterator(t)
	if err := it.SeekToKey(ikey.New(userKey, readTS)); err != nil {
		return nil, false, err
	}
	if !it.Valid() || !bytes.Equal(it.Key().UserKey, userKey) {
		return nil, false, nil
	}
	return it.Value(), true, nil
}

// findTableForKey binary-searches ids (assumed sorted ascending by first
// key, with disjoint ranges) for the one whose key range may contain
// userKey, or -1 if none does.
func findTableForKey(tables map[uint32]*sstable.Table, ids []uint32, userKey []byte) int {
	idx := sort.Search(len(ids), func(i int) bool {
		t := tables[ids[i]]
		return t != nil && bytes.Compare(t.LastKey().UserKey, userKey) >= 0
	})
	if idx >= len(ids) {
		return -1
	}
	t := tables[ids[idx]]
	if t == nil || bytes.Compare(t.FirstKey().UserKey, userKey) > 0 {
		return -1
	}
	return idx
}

// NewTxn begins a transaction pinned to the current commit timestamp.
func (e *Engine) NewTxn() *mvcc.Transaction {
	return mvcc.New(e.mvccMgr, e, e.opts.Serializable)
}
