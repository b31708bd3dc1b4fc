package sstable

import (
	"github.com/lsmkv/lsmkv/internal/block"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/filter"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// Builder accumulates internal-key/value entries in ascending order into a
// sequence of blocks, producing one complete SST's bytes.
type Builder struct {
	blockSize  int
	codec      compress.Codec
	bitsPerKey int

	cur        *block.Builder
	curFirst   ikey.Key
	curHasKey  bool
	body       []byte
	metas      []BlockMeta
	keyHashes  []uint32
	maxTS      uint64
	firstKey   ikey.Key
	lastKey    ikey.Key
	hasAnyKey  bool
	numEntries int
}

// NewBuilder creates a Builder targeting blockSize bytes per block,
// compressing block bytes with codec, and sizing the Bloom filter for
// bitsPerKey bits per key.
func NewBuilder(blockSize int, codec compress.Codec, bitsPerKey int) *Builder {
	return &Builder{
		blockSize:  blockSize,
		codec:      codec,
		bitsPerKey: bitsPerKey,
		cur:        block.NewBuilder(blockSize),
	}
}

// EstimatedSize returns the approximate encoded size so far, used by
// callers to decide when to roll over to a new SST.
func (b *Builder) EstimatedSize() int {
	return len(b.body) + b.cur.EstimatedSize()
}

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() int {
	return b.numEntries
}

// Add appends an entry; keys must arrive in ascending internal-key order.
func (b *Builder) Add(key ikey.Key, value []byte) {
	if !b.cur.Add(key, value) {
		b.finishBlock()
		b.cur.Add(key, value)
	}
	if !b.curHasKey {
		b.curFirst = key
		b.curHasKey = true
	}
	if !b.hasAnyKey {
		b.firstKey = key
		b.hasAnyKey = true
	}
	b.lastKey = key
	if key.TS > b.maxTS {
		b.maxTS = key.TS
	}
	b.keyHashes = append(b.keyHashes, filter.KeyHash(key.UserKey))
	b.numEntries++
}

func (b *Builder) finishBlock() {
	if b.cur.IsEmpty() {
		return
	}
	blk := b.cur.Build()
	raw := blk.Encode()
	record, err := encodeBlockRecord(b.codec, raw)
	if err != nil {
		// Compression failures only occur on programmer error (bad codec);
		// fall back to storing the block uncompressed rather than losing data.
		record, _ = encodeBlockRecord(compress.None, raw)
	}
	offset := uint32(len(b.body))
	b.metas = append(b.metas, BlockMeta{
		Offset:   offset,
		FirstKey: b.curFirst,
		LastKey:  b.lastKey,
	})
	b.body = append(b.body, record...)
	b.cur = block.NewBuilder(b.blockSize)
	b.curHasKey = false
}

// Finish finalizes the SST and returns its complete encoded bytes along
// with its first and last internal key and its largest timestamp.
func (b *Builder) Finish() (data []byte, firstKey, lastKey ikey.Key, maxTS uint64) {
	b.finishBlock()

	bloomBitsPerKey := b.bitsPerKey
	if bloomBitsPerKey <= 0 {
		bloomBitsPerKey = filter.BitsPerKey(max(b.numEntries, 1), 0.01)
	}
	bf := filter.Build(b.keyHashes, bloomBitsPerKey)
	bloomBytes := bf.Encode()

	metaBytes := EncodeBlockMeta(b.metas)

	out := make([]byte, 0, len(b.body)+len(bloomBytes)+len(metaBytes)+FooterSize)
	out = append(out, b.body...)
	bloomOffset := uint32(len(out))
	out = append(out, bloomBytes...)
	metaOffset := uint32(len(out))
	out = append(out, metaBytes...)

	footer := Footer{
		MaxTS:       b.maxTS,
		BloomOffset: bloomOffset,
		BloomLen:    uint32(len(bloomBytes)),
		MetaOffset:  metaOffset,
		MetaLen:     uint32(len(metaBytes)),
	}
	out = append(out, footer.Encode()...)
	return out, b.firstKey, b.lastKey, b.maxTS
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
