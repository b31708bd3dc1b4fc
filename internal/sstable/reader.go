package sstable

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lsmkv/lsmkv/internal/block"
	"github.com/lsmkv/lsmkv/internal/cache"
	"github.com/lsmkv/lsmkv/internal/filter"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// Table is an open, immutable SST: its file handle, parsed footer and
// block-meta index, and decoded Bloom filter.
type Table struct {
	ID       uint32
	file     *os.File
	size     int64
	footer   Footer
	metas    []BlockMeta
	bloom    *filter.Filter
	firstKey ikey.Key
	lastKey  ikey.Key
	cache    *cache.Cache
}

// Open reads and validates the footer, block-meta array, and Bloom filter
// of the SST at path, without reading any data block.
func Open(id uint32, path string, c *cache.Cache) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	size := info.Size()
	if size < FooterSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s smaller than footer", ErrTruncated, path)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, size-FooterSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer %s: %w", path, err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: decode footer %s: %w", path, err)
	}

	metaBuf := make([]byte, footer.MetaLen)
	if _, err := f.ReadAt(metaBuf, int64(footer.MetaOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read block meta %s: %w", path, err)
	}
	metas, err := DecodeBlockMeta(metaBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: decode block meta %s: %w", path, err)
	}
	if len(metas) == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s has no blocks", ErrTruncated, path)
	}

	bloomBuf := make([]byte, footer.BloomLen)
	if _, err := f.ReadAt(bloomBuf, int64(footer.BloomOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom filter %s: %w", path, err)
	}

	return &Table{
		ID:       id,
		file:     f,
		size:     size,
		footer:   footer,
		metas:    metas,
		bloom:    filter.Decode(bloomBuf),
		firstKey: metas[0].FirstKey,
		lastKey:  metas[len(metas)-1].LastKey,
		cache:    c,
	}, nil
}

// Close releases the table's file handle.
func (t *Table) Close() error {
	return t.file.Close()
}

// FirstKey returns the table's smallest internal key.
func (t *Table) FirstKey() ikey.Key { return t.firstKey }

// LastKey returns the table's largest internal key.
func (t *Table) LastKey() ikey.Key { return t.lastKey }

// MaxTS returns the largest timestamp of any entry in the table.
func (t *Table) MaxTS() uint64 { return t.footer.MaxTS }

// Size returns the file size in bytes.
func (t *Table) Size() int64 { return t.size }

// NumBlocks returns the number of data blocks.
func (t *Table) NumBlocks() int { return len(t.metas) }

// MayContain reports whether the table's Bloom filter admits the
// possibility that userKey is present.
func (t *Table) MayContain(userKey []byte) bool {
	return t.bloom.MayContain(filter.KeyHash(userKey))
}

// blockByteRange returns the [start, end) byte range of block idx's codec-
// tagged record within the file.
func (t *Table) blockByteRange(idx int) (int64, int64) {
	start := int64(t.metas[idx].Offset)
	var end int64
	if idx+1 < len(t.metas) {
		end = int64(t.metas[idx+1].Offset)
	} else {
		end = int64(t.footer.BloomOffset)
	}
	return start, end
}

// readBlock reads and decodes block idx directly from disk, bypassing the
// cache.
func (t *Table) readBlock(idx int) (*block.Block, error) {
	if idx < 0 || idx >= len(t.metas) {
		return nil, fmt.Errorf("sstable: block index %d out of range", idx)
	}
	start, end := t.blockByteRange(idx)
	buf := make([]byte, end-start)
	if _, err := t.file.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("sstable: read block %d: %w", idx, err)
	}
	raw, err := decodeBlockRecord(buf)
	if err != nil {
		return nil, fmt.Errorf("sstable: decompress block %d: %w", idx, err)
	}
	return block.Decode(raw)
}

// ReadBlockCached returns block idx, consulting the process-wide block
// cache first. Concurrent misses on the same (table, idx) share one load.
func (t *Table) ReadBlockCached(idx int) (*block.Block, error) {
	if t.cache == nil {
		return t.readBlock(idx)
	}
	v, err := t.cache.Get(cache.Key{SSTID: t.ID, BlockIdx: idx}, func() (any, error) {
		return t.readBlock(idx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*block.Block), nil
}

// FindBlockIdx returns the index of the block whose range can contain key:
// the last block whose first key is <= key, via binary search over the
// block-meta array.
func (t *Table) FindBlockIdx(key ikey.Key) int {
	idx := sort.Search(len(t.metas), func(i int) bool {
		return ikey.Compare(t.metas[i].FirstKey, key) > 0
	})
	if idx == 0 {
		return 0
	}
	return idx - 1
}
