package iterators

import (
	"github.com/lsmkv/lsmkv/internal/block"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// BlockIterator adapts a block.Iterator to the Iterator interface.
type BlockIterator struct {
	it *block.Iterator
}

// NewBlockIterator wraps it, positioned wherever it currently is.
func NewBlockIterator(it *block.Iterator) *BlockIterator {
	return &BlockIterator{it: it}
}

func (b *BlockIterator) Valid() bool      { return b.it.IsValid() }
func (b *BlockIterator) Key() ikey.Key    { return b.it.Key() }
func (b *BlockIterator) Value() []byte    { return b.it.Value() }
func (b *BlockIterator) NumActive() int   { return 1 }
func (b *BlockIterator) Next() error {
	b.it.Next()
	return nil
}
