package memtable

import (
	"math/rand"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

const maxHeight = 16
const branching = 4

type skipNode struct {
	key   ikey.Key
	value []byte
	next  []*skipNode
}

// skiplist is an ordered map from internal key to value. It is not
// internally synchronized; callers serialize access with a mutex (see
// Memtable).
type skiplist struct {
	head   *skipNode
	height int
	size   int
}

func newSkiplist() *skiplist {
	return &skiplist{
		head:   &skipNode{next: make([]*skipNode, maxHeight)},
		height: 1,
	}
}

func (s *skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && rand.Intn(branching) == 0 {
		h++
	}
	return h
}

// findPredecessors locates, for each level, the last node whose key is <
// key, and returns the node whose key is == key if present (else nil).
func (s *skiplist) findPredecessors(key ikey.Key, preds []*skipNode) *skipNode {
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.next[level] != nil && ikey.Compare(x.next[level].key, key) < 0 {
			x = x.next[level]
		}
		preds[level] = x
	}
	if next := x.next[0]; next != nil && ikey.Equal(next.key, key) {
		return next
	}
	return nil
}

// Put inserts or overwrites the entry for key.
func (s *skiplist) Put(key ikey.Key, value []byte) {
	var preds [maxHeight]*skipNode
	if existing := s.findPredecessors(key, preds[:]); existing != nil {
		existing.value = value
		return
	}
	h := s.randomHeight()
	if h > s.height {
		for level := s.height; level < h; level++ {
			preds[level] = s.head
		}
		s.height = h
	}
	node := &skipNode{key: key, value: value, next: make([]*skipNode, h)}
	for level := 0; level < h; level++ {
		node.next[level] = preds[level].next[level]
		preds[level].next[level] = node
	}
	s.size++
}

// Get returns the exact-match entry for key, if present.
func (s *skiplist) Get(key ikey.Key) ([]byte, bool) {
	var preds [maxHeight]*skipNode
	if n := s.findPredecessors(key, preds[:]); n != nil {
		return n.value, true
	}
	return nil, false
}

// seekGE returns the first node with key >= target, or nil.
func (s *skiplist) seekGE(target ikey.Key) *skipNode {
	x := s.head
	for level := s.height - 1; level >= 0; level-- {
		for x.next[level] != nil && ikey.Compare(x.next[level].key, target) < 0 {
			x = x.next[level]
		}
	}
	return x.next[0]
}
