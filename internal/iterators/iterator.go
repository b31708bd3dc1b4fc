// Package iterators implements the composable ordered-iterator stack:
// block and SST iterators at the leaves, a heap-based merge iterator and a
// two-way merge iterator for combining sources, a concat iterator over
// non-overlapping SSTs, the top-level LSM iterator that applies MVCC
// visibility and tombstone suppression, and a fused wrapper that guards
// against calling Next after exhaustion.
package iterators

import "github.com/lsmkv/lsmkv/internal/ikey"

// Iterator is the minimal contract every ordered source in the stack
// exposes.
type Iterator interface {
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	// Key returns the current internal key. Only valid to call when Valid().
	Key() ikey.Key
	// Value returns the current value. Only valid to call when Valid().
	Value() []byte
	// Next advances to the next entry.
	Next() error
	// NumActive returns the number of underlying source iterators still
	// contributing entries, for observability.
	NumActive() int
}
