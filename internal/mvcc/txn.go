package mvcc

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lsmkv/lsmkv/internal/checksum"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/iterators"
)

// ErrAlreadyCommitted is returned by Commit when called a second time on
// the same transaction.
var ErrAlreadyCommitted = errors.New("mvcc: transaction already committed")

// WriteRecord is one write in a batch; an empty Value is a delete.
type WriteRecord struct {
	Key   []byte
	Value []byte
}

// Store is the engine surface a Transaction needs: MVCC-aware point lookups
// and scans, plus the write path to apply a committed batch.
type Store interface {
	GetWithTS(userKey []byte, ts uint64) ([]byte, bool, error)
	ScanWithTS(lower, upper ikey.Bound, ts uint64) (iterators.Iterator, error)
	WriteBatch(records []WriteRecord) error
	WriteBatchAtTS(records []WriteRecord, ts uint64) error
}

// Transaction is a snapshot pinned at read_ts with a local write buffer.
// Reads consult the local buffer first, then the engine at read_ts. Commit
// applies the buffered batch; in serializable mode it additionally checks
// for read/write conflicts against transactions committed since read_ts.
type Transaction struct {
	mgr          *Manager
	store        Store
	readTS       uint64
	local        *localBuffer
	committed    atomic.Bool
	serializable bool

	hashMu      sync.Mutex
	writeHashes map[uint32]bool
	readHashes  map[uint32]bool
}

// New starts a transaction: it reads the current commit ts without
// incrementing it and registers that ts with the watermark.
func New(mgr *Manager, store Store, serializable bool) *Transaction {
	readTS := mgr.NewReadTS()
	t := &Transaction{
		mgr:          mgr,
		store:        store,
		readTS:       readTS,
		local:        newLocalBuffer(),
		serializable: serializable,
	}
	if serializable {
		t.writeHashes = make(map[uint32]bool)
		t.readHashes = make(map[uint32]bool)
	}
	return t
}

// ReadTS returns the transaction's pinned read timestamp.
func (t *Transaction) ReadTS() uint64 { return t.readTS }

func keyHash(key []byte) uint32 { return checksum.Value(key) }

// Get consults the local write buffer first (an empty value there is a
// local delete, reported as not-found), then the engine at read_ts.
func (t *Transaction) Get(key []byte) ([]byte, bool, error) {
	if t.committed.Load() {
		return nil, false, ErrAlreadyCommitted
	}
	if t.serializable {
		t.hashMu.Lock()
		t.readHashes[keyHash(key)] = true
		t.hashMu.Unlock()
	}
	if v, ok := t.local.get(key); ok {
		if len(v) == 0 {
			return nil, false, nil
		}
		return v, true, nil
	}
	return t.store.GetWithTS(key, t.readTS)
}

// Put buffers a write locally.
func (t *Transaction) Put(key, value []byte) error {
	if t.committed.Load() {
		return ErrAlreadyCommitted
	}
	t.local.put(key, value)
	if t.serializable {
		t.hashMu.Lock()
		t.writeHashes[keyHash(key)] = true
		t.hashMu.Unlock()
	}
	return nil
}

// Delete buffers a local delete (an empty-value write).
func (t *Transaction) Delete(key []byte) error {
	return t.Put(key, nil)
}

// Scan returns a TxnIterator merging the local buffer with the engine's
// view at read_ts, skipping tombstones.
func (t *Transaction) Scan(lower, upper ikey.Bound) (*TxnIterator, error) {
	if t.committed.Load() {
		return nil, ErrAlreadyCommitted
	}
	inner, err := t.store.ScanWithTS(lower, upper, t.readTS)
	if err != nil {
		return nil, err
	}
	lowerIncl, hasLower := boundKey(lower)
	upperKey, hasUpper, upperIncl := upperBoundKey(upper)
	entries := t.local.scan(lowerIncl, hasLower, upperKey, hasUpper, upperIncl)
	return newTxnIterator(t, entries, iterators.NewFusedIterator(inner))
}

func boundKey(b ikey.Bound) ([]byte, bool) {
	if b.Kind == ikey.Unbounded {
		return nil, false
	}
	return b.Key, true
}

func upperBoundKey(b ikey.Bound) ([]byte, bool, bool) {
	if b.Kind == ikey.Unbounded {
		return nil, false, false
	}
	return b.Key, true, b.Kind == ikey.Included
}

// Commit transitions committed false→true (erroring if already committed),
// then applies the buffered batch via the engine's write path. In
// serializable mode the commit additionally conflict-checks the read set
// against transactions committed since read_ts, under the manager's commit
// lock.
func (t *Transaction) Commit() error {
	if !t.committed.CompareAndSwap(false, true) {
		return ErrAlreadyCommitted
	}
	defer t.mgr.ReleaseReadTS(t.readTS)

	records := t.local.records()
	if !t.serializable {
		return t.store.WriteBatch(records)
	}

	t.hashMu.Lock()
	writeHashes := t.writeHashes
	readHashes := t.readHashes
	t.hashMu.Unlock()

	_, err := t.mgr.CommitSerializable(t.readTS, writeHashes, readHashes, func(ts uint64) error {
		return t.store.WriteBatchAtTS(records, ts)
	})
	return err
}

// Close releases the transaction's read_ts registration without committing.
// Safe to call after a successful Commit (a no-op, since Commit already
// released it) but not required before one.
func (t *Transaction) Close() {
	if t.committed.CompareAndSwap(false, true) {
		t.mgr.ReleaseReadTS(t.readTS)
	}
}

// TxnIterator merges a transaction's local write buffer with its engine
// scan, local entries always winning on key collision, skipping tombstones.
type TxnIterator struct {
	txn     *Transaction
	entries []entry
	idx     int
	inner   iterators.Iterator

	useLocal bool
	curKey   []byte
	curValue []byte
	valid    bool
}

func newTxnIterator(txn *Transaction, entries []entry, inner iterators.Iterator) (*TxnIterator, error) {
	it := &TxnIterator{txn: txn, entries: entries, inner: inner}
	if err := it.advanceToVisible(true); err != nil {
		return nil, err
	}
	return it, nil
}

// step positions the iterator on the next merged candidate (before
// tombstone skipping): local wins ties and, on a tie, the inner side is
// also advanced past its duplicate.
func (it *TxnIterator) step(first bool) error {
	if !first {
		if it.useLocal {
			it.idx++
		} else if err := it.inner.Next(); err != nil {
			return err
		}
	}
	localHas := it.idx < len(it.entries)
	innerHas := it.inner.Valid()
	switch {
	case !localHas && !innerHas:
		it.valid = false
		return nil
	case !localHas:
		it.useLocal = false
	case !innerHas:
		it.useLocal = true
	default:
		cmp := bytes.Compare(it.entries[it.idx].Key, it.inner.Key().UserKey)
		it.useLocal = cmp <= 0
		if cmp == 0 {
			if err := it.inner.Next(); err != nil {
				return err
			}
		}
	}
	it.valid = true
	if it.useLocal {
		it.curKey = it.entries[it.idx].Key
		it.curValue = it.entries[it.idx].Value
	} else {
		it.curKey = it.inner.Key().UserKey
		it.curValue = it.inner.Value()
	}
	return nil
}

func (it *TxnIterator) advanceToVisible(first bool) error {
	if err := it.step(first); err != nil {
		return err
	}
	for it.valid && len(it.curValue) == 0 {
		if err := it.step(false); err != nil {
			return err
		}
	}
	return nil
}

func (it *TxnIterator) Valid() bool { return it.valid }

// Key returns the current entry's internal key, with TS set to the
// transaction's read_ts since results are already MVCC-resolved.
func (it *TxnIterator) Key() ikey.Key { return ikey.New(it.curKey, it.txn.readTS) }

func (it *TxnIterator) Value() []byte { return it.curValue }

func (it *TxnIterator) NumActive() int { return it.inner.NumActive() }

func (it *TxnIterator) Next() error { return it.advanceToVisible(false) }
