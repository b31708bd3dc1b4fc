package iterators

import "github.com/lsmkv/lsmkv/internal/ikey"

// SliceEntry is one (key, value) pair backing a SliceIterator.
type SliceEntry struct {
	Key   ikey.Key
	Value []byte
}

// SliceIterator replays a pre-materialized, already-sorted slice of entries
// as an Iterator. Used for memtable scans (materialized under the
// memtable's read lock) and for a transaction's local write buffer.
type SliceIterator struct {
	entries []SliceEntry
	idx     int
}

// NewSliceIterator wraps entries, which must already be in ascending
// internal-key order.
func NewSliceIterator(entries []SliceEntry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (s *SliceIterator) Valid() bool { return s.idx < len(s.entries) }

func (s *SliceIterator) Key() ikey.Key { return s.entries[s.idx].Key }

func (s *SliceIterator) Value() []byte { return s.entries[s.idx].Value }

func (s *SliceIterator) NumActive() int {
	if s.Valid() {
		return 1
	}
	return 0
}

func (s *SliceIterator) Next() error {
	s.idx++
	return nil
}
