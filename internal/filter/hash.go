package filter

import "github.com/zeebo/xxh3"

// KeyHash computes the 32-bit hash of a user-key used to build and probe
// the Bloom filter: the low 32 bits of its 64-bit XXH3 hash.
func KeyHash(userKey []byte) uint32 {
	return uint32(xxh3.Hash(userKey))
}
