package block

import (
	"github.com/lsmkv/lsmkv/internal/encoding"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// Iterator walks the entries of a single decoded Block in ascending
// internal-key order.
type Iterator struct {
	block    *Block
	idx      int
	firstKey ikey.Key
	key      ikey.Key
	value    []byte
	valid    bool
}

// NewIterator creates an Iterator positioned before the first entry; call
// SeekToFirst or SeekToKey to position it.
func NewIterator(b *Block) *Iterator {
	it := &Iterator{block: b}
	if b.NumEntries() > 0 {
		it.firstKey, _ = it.decodeAt(0)
	}
	return it
}

func (it *Iterator) decodeAt(idx int) (ikey.Key, []byte) {
	start := int(it.block.Offsets[idx])
	data := it.block.Data[start:]
	overlap := encoding.DecodeFixed16(data)
	restLen := encoding.DecodeFixed16(data[2:])
	rest := data[4 : 4+int(restLen)]
	p := 4 + int(restLen)
	ts := encoding.DecodeFixed64(data[p:])
	p += 8
	valLen := encoding.DecodeFixed16(data[p:])
	p += 2
	value := data[p : p+int(valLen)]

	var userKey []byte
	if overlap == 0 {
		userKey = rest
	} else {
		userKey = make([]byte, 0, int(overlap)+len(rest))
		userKey = append(userKey, it.firstKey.UserKey[:overlap]...)
		userKey = append(userKey, rest...)
	}
	return ikey.New(userKey, ts), value
}

func (it *Iterator) seekTo(idx int) {
	if idx < 0 || idx >= it.block.NumEntries() {
		it.valid = false
		return
	}
	it.idx = idx
	it.key, it.value = it.decodeAt(idx)
	it.valid = true
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.seekTo(0)
}

// SeekToKey positions the iterator at the first entry whose internal key is
// >= target, using binary search over the block's entries.
func (it *Iterator) SeekToKey(target ikey.Key) {
	n := it.block.NumEntries()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, _ := it.decodeAt(mid)
		if ikey.Compare(k, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	it.seekTo(lo)
}

// IsValid reports whether the iterator is positioned at a valid entry.
func (it *Iterator) IsValid() bool {
	return it.valid
}

// Key returns the current internal key.
func (it *Iterator) Key() ikey.Key {
	return it.key
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.value
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	it.seekTo(it.idx + 1)
}
