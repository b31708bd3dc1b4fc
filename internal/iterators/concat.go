package iterators

import (
	"sort"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// ConcatIterator iterates a sequence of non-overlapping, key-ordered SSTs
// as a single stream, constructing each SST's iterator lazily.
type ConcatIterator struct {
	tables []*sstable.Table
	idx    int
	cur    *SSTIterator
}

// NewConcatIterator builds a ConcatIterator over tables, which must already
// be sorted by first key and have disjoint ranges.
func NewConcatIterator(tables []*sstable.Table) *ConcatIterator {
	return &ConcatIterator{tables: tables, idx: -1}
}

// SeekToFirst positions the iterator at the first entry of the first table.
func (c *ConcatIterator) SeekToFirst() error {
	return c.seekTable(0, func(it *SSTIterator) error { return it.SeekToFirst() })
}

// SeekToKey binary-searches for the table whose last_key >= target and
// seeks into it.
func (c *ConcatIterator) SeekToKey(target ikey.Key) error {
	idx := sort.Search(len(c.tables), func(i int) bool {
		return ikey.Compare(c.tables[i].LastKey(), target) >= 0
	})
	return c.seekTable(idx, func(it *SSTIterator) error { return it.SeekToKey(target) })
}

func (c *ConcatIterator) seekTable(idx int, position func(*SSTIterator) error) error {
	if idx >= len(c.tables) {
		c.idx = len(c.tables)
		c.cur = nil
		return nil
	}
	it := NewSSTIterator(c.tables[idx])
	if err := position(it); err != nil {
		return err
	}
	c.idx = idx
	c.cur = it
	if !it.Valid() {
		return c.seekTable(idx+1, func(it *SSTIterator) error { return it.SeekToFirst() })
	}
	return nil
}

func (c *ConcatIterator) Valid() bool {
	return c.cur != nil && c.cur.Valid()
}

func (c *ConcatIterator) Key() ikey.Key {
	return c.cur.Key()
}

func (c *ConcatIterator) Value() []byte {
	return c.cur.Value()
}

func (c *ConcatIterator) NumActive() int {
	if c.Valid() {
		return 1
	}
	return 0
}

func (c *ConcatIterator) Next() error {
	if err := c.cur.Next(); err != nil {
		return err
	}
	if c.cur.Valid() {
		return nil
	}
	return c.seekTable(c.idx+1, func(it *SSTIterator) error { return it.SeekToFirst() })
}
