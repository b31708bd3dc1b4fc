package iterators

import (
	"github.com/lsmkv/lsmkv/internal/block"
	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/sstable"
)

// SSTIterator walks a single SST's entries in ascending internal-key
// order, loading blocks lazily (and through the shared block cache) as it
// crosses block boundaries.
type SSTIterator struct {
	table   *sstable.Table
	blockID int
	cur     *block.Iterator
}

// NewSSTIterator creates an iterator over table, positioned before the
// first entry.
func NewSSTIterator(table *sstable.Table) *SSTIterator {
	return &SSTIterator{table: table, blockID: -1}
}

// SeekToFirst positions the iterator at the table's first entry.
func (s *SSTIterator) SeekToFirst() error {
	return s.seekToBlock(0, func(it *block.Iterator) { it.SeekToFirst() })
}

// SeekToKey positions the iterator at the first entry >= key.
func (s *SSTIterator) SeekToKey(key ikey.Key) error {
	idx := s.table.FindBlockIdx(key)
	if idx < 0 {
		idx = 0
	}
	if err := s.seekToBlock(idx, func(it *block.Iterator) { it.SeekToKey(key) }); err != nil {
		return err
	}
	if !s.cur.IsValid() {
		return s.seekToBlock(idx+1, func(it *block.Iterator) { it.SeekToFirst() })
	}
	return nil
}

func (s *SSTIterator) seekToBlock(idx int, position func(*block.Iterator)) error {
	if idx >= s.table.NumBlocks() {
		s.blockID = s.table.NumBlocks()
		s.cur = nil
		return nil
	}
	blk, err := s.table.ReadBlockCached(idx)
	if err != nil {
		return err
	}
	it := block.NewIterator(blk)
	position(it)
	s.blockID = idx
	s.cur = it
	return nil
}

func (s *SSTIterator) Valid() bool {
	return s.cur != nil && s.cur.IsValid()
}

func (s *SSTIterator) Key() ikey.Key {
	return s.cur.Key()
}

func (s *SSTIterator) Value() []byte {
	return s.cur.Value()
}

func (s *SSTIterator) NumActive() int {
	if s.Valid() {
		return 1
	}
	return 0
}

func (s *SSTIterator) Next() error {
	s.cur.Next()
	if s.cur.IsValid() {
		return nil
	}
	return s.seekToBlock(s.blockID+1, func(it *block.Iterator) { it.SeekToFirst() })
}
