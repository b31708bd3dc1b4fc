package iterators

import (
	"bytes"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

// LSMIterator sits atop the merged source stack (memtables, L0, levels)
// and applies MVCC visibility at read_ts: for each distinct user-key it
// exposes only the newest version with ts <= read_ts, suppresses
// tombstones, and truncates at the scan's upper bound.
type LSMIterator struct {
	inner       Iterator
	readTS      uint64
	upper       ikey.Bound
	lastUserKey []byte
	curKey      ikey.Key
	curValue    []byte
	valid       bool
}

// NewLSMIterator wraps inner (already positioned at its first candidate
// entry) with MVCC visibility at readTS, truncated at upper.
func NewLSMIterator(inner Iterator, readTS uint64, upper ikey.Bound) (*LSMIterator, error) {
	it := &LSMIterator{inner: inner, readTS: readTS, upper: upper}
	if err := it.moveToVisible(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *LSMIterator) withinUpper(userKey []byte) bool {
	switch it.upper.Kind {
	case ikey.Unbounded:
		return true
	case ikey.Included:
		return bytes.Compare(userKey, it.upper.Key) <= 0
	case ikey.Excluded:
		return bytes.Compare(userKey, it.upper.Key) < 0
	default:
		return true
	}
}

func (it *LSMIterator) moveToVisible() error {
	for it.inner.Valid() {
		k := it.inner.Key()
		if it.lastUserKey != nil && bytes.Equal(it.lastUserKey, k.UserKey) {
			if err := it.inner.Next(); err != nil {
				return err
			}
			continue
		}
		if !it.withinUpper(k.UserKey) {
			it.valid = false
			return nil
		}
		if k.TS > it.readTS {
			if err := it.inner.Next(); err != nil {
				return err
			}
			continue
		}
		it.lastUserKey = append([]byte(nil), k.UserKey...)
		if len(it.inner.Value()) == 0 {
			// Tombstone: this user-key's visible version is "deleted".
			if err := it.inner.Next(); err != nil {
				return err
			}
			continue
		}
		it.curKey = k
		it.curValue = it.inner.Value()
		it.valid = true
		return nil
	}
	it.valid = false
	return nil
}

func (it *LSMIterator) Valid() bool { return it.valid }

func (it *LSMIterator) Key() ikey.Key { return it.curKey }

func (it *LSMIterator) Value() []byte { return it.curValue }

func (it *LSMIterator) NumActive() int { return it.inner.NumActive() }

func (it *LSMIterator) Next() error {
	if err := it.inner.Next(); err != nil {
		return err
	}
	return it.moveToVisible()
}

// FusedIterator wraps any Iterator so that, once it has signaled invalid,
// further Next calls are no-ops instead of undefined behavior.
type FusedIterator struct {
	inner Iterator
}

// NewFusedIterator wraps inner.
func NewFusedIterator(inner Iterator) *FusedIterator {
	return &FusedIterator{inner: inner}
}

func (f *FusedIterator) Valid() bool { return f.inner.Valid() }

func (f *FusedIterator) Key() ikey.Key { return f.inner.Key() }

func (f *FusedIterator) Value() []byte { return f.inner.Value() }

func (f *FusedIterator) NumActive() int { return f.inner.NumActive() }

func (f *FusedIterator) Next() error {
	if !f.inner.Valid() {
		return nil
	}
	return f.inner.Next()
}
