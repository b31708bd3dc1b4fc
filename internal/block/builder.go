package block

import (
	"github.com/lsmkv/lsmkv/internal/encoding"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// trailerOverhead is the fixed trailer cost (entry count + checksum);
// EstimatedSize adds the per-entry offset table cost on top of it.
const trailerOverhead = 2 + 4

// Builder accumulates internal-key/value entries into a single block,
// prefix-compressing each key's user-key bytes against the block's first
// key.
type Builder struct {
	targetSize int
	data       []byte
	offsets    []uint16
	firstKey   ikey.Key
	hasFirst   bool
}

// NewBuilder creates a Builder that targets blocks of roughly targetSize
// bytes (soft limit: the first entry is always accepted regardless of
// size so a single oversized entry does not stall the pipeline).
func NewBuilder(targetSize int) *Builder {
	return &Builder{targetSize: targetSize}
}

// EstimatedSize returns the current encoded size estimate, including the
// trailer.
func (b *Builder) EstimatedSize() int {
	return len(b.data) + 2*len(b.offsets) + trailerOverhead
}

// IsEmpty reports whether no entries have been added yet.
func (b *Builder) IsEmpty() bool {
	return len(b.offsets) == 0
}

// Add appends an entry. It returns false (without modifying the builder)
// when the block already has at least one entry and adding this one would
// exceed the target size, signaling the caller to finish this block and
// start a new one.
//
// Add trusts its caller for the key/value length precondition (each must
// fit the 16-bit length prefix this block format encodes them with); that
// precondition is enforced once, at the engine's write path, rather than
// re-checked on every block entry.
func (b *Builder) Add(key ikey.Key, value []byte) bool {
	entrySize := overlapEntrySize(key, value, b.firstKey, b.hasFirst)
	if !b.IsEmpty() && b.EstimatedSize()+entrySize > b.targetSize {
		return false
	}
	b.offsets = append(b.offsets, uint16(len(b.data)))
	b.data = appendEntry(b.data, key, value, b.firstKey, b.hasFirst)
	if !b.hasFirst {
		b.firstKey = key
		b.hasFirst = true
	}
	return true
}

// Build finalizes the block.
func (b *Builder) Build() *Block {
	return &Block{Data: b.data, Offsets: b.offsets}
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func overlapEntrySize(key ikey.Key, value []byte, firstKey ikey.Key, hasFirst bool) int {
	overlap := 0
	if hasFirst {
		overlap = commonPrefixLen(firstKey.UserKey, key.UserKey)
	}
	rest := len(key.UserKey) - overlap
	return 2 + 2 + rest + 8 + 2 + len(value)
}

func appendEntry(dst []byte, key ikey.Key, value []byte, firstKey ikey.Key, hasFirst bool) []byte {
	overlap := 0
	if hasFirst {
		overlap = commonPrefixLen(firstKey.UserKey, key.UserKey)
	}
	rest := key.UserKey[overlap:]
	dst = encoding.AppendFixed16(dst, uint16(overlap))
	dst = encoding.AppendFixed16(dst, uint16(len(rest)))
	dst = append(dst, rest...)
	dst = encoding.AppendFixed64(dst, key.TS)
	dst = encoding.AppendFixed16(dst, uint16(len(value)))
	dst = append(dst, value...)
	return dst
}
