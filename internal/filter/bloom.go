// Package filter implements the per-SST Bloom filter over 32-bit user-key
// hashes, used to short-circuit point lookups against SSTs that cannot
// contain the queried key.
package filter

import "math"

// Filter is a Bloom filter over a set of 32-bit key hashes.
type Filter struct {
	bits []byte
	k    uint8
}

// BitsPerKey computes the number of filter bits to allocate per key to hit
// the requested false-positive rate, following the standard Bloom filter
// sizing formula.
func BitsPerKey(numEntries int, falsePositiveRate float64) int {
	if numEntries <= 0 {
		return 10
	}
	size := -1.0 * float64(numEntries) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
	locs := math.Ceil(size / float64(numEntries))
	return int(locs)
}

// Build constructs a Filter from a set of 32-bit key hashes, targeting
// bitsPerKey bits of filter storage for each key.
func Build(hashes []uint32, bitsPerKey int) *Filter {
	k := uint8(clamp(int(float64(bitsPerKey)*0.69), 1, 30))
	nbits := len(hashes) * bitsPerKey
	if nbits < 64 {
		nbits = 64
	}
	nbytes := (nbits + 7) / 8
	nbits = nbytes * 8

	f := &Filter{bits: make([]byte, nbytes), k: k}
	for _, h := range hashes {
		delta := (h >> 17) | (h << 15)
		bitPos := h
		for i := uint8(0); i < k; i++ {
			idx := int(bitPos) % nbits
			setBit(f.bits, idx)
			bitPos += delta
		}
	}
	return f
}

// MayContain reports whether the filter may contain h. A false result is a
// sound guarantee of absence; a true result may be a false positive.
func (f *Filter) MayContain(h uint32) bool {
	if f.k > 30 {
		return true
	}
	nbits := len(f.bits) * 8
	if nbits == 0 {
		return true
	}
	delta := (h >> 17) | (h << 15)
	bitPos := h
	for i := uint8(0); i < f.k; i++ {
		idx := int(bitPos) % nbits
		if !getBit(f.bits, idx) {
			return false
		}
		bitPos += delta
	}
	return true
}

// Encode serializes the filter: filter bits followed by a trailing k byte.
func (f *Filter) Encode() []byte {
	buf := make([]byte, 0, len(f.bits)+1)
	buf = append(buf, f.bits...)
	buf = append(buf, f.k)
	return buf
}

// Decode parses a filter previously produced by Encode.
func Decode(buf []byte) *Filter {
	if len(buf) == 0 {
		return &Filter{}
	}
	return &Filter{bits: buf[:len(buf)-1], k: buf[len(buf)-1]}
}

func setBit(b []byte, idx int) {
	b[idx/8] |= 1 << uint(idx%8)
}

func getBit(b []byte, idx int) bool {
	return b[idx/8]&(1<<uint(idx%8)) != 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
