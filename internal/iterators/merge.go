package iterators

import (
	"container/heap"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

// MergeIterator merges N homogeneous sources in ascending internal-key
// order. When two sources hold the same internal key, the one with the
// smaller source index wins (the caller's convention for "newer source");
// the other sources holding that key are advanced too, so only the
// winner's value is ever exposed.
type MergeIterator struct {
	h       mergeHeap
	current *heapItem
}

type heapItem struct {
	iter Iterator
	idx  int
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := ikey.Compare(h[i].iter.Key(), h[j].iter.Key())
	if c != 0 {
		return c < 0
	}
	return h[i].idx < h[j].idx
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a MergeIterator over sources, where sources[0] is
// considered the "newest" (wins ties).
func NewMergeIterator(sources []Iterator) (*MergeIterator, error) {
	m := &MergeIterator{}
	for i, it := range sources {
		if it.Valid() {
			heap.Push(&m.h, &heapItem{iter: it, idx: i})
		}
	}
	if err := m.popCurrent(); err != nil {
		return nil, err
	}
	return m, nil
}

// popCurrent pops the winning entry to m.current and advances (and
// re-pushes) every other source that held the same internal key.
func (m *MergeIterator) popCurrent() error {
	if m.h.Len() == 0 {
		m.current = nil
		return nil
	}
	top := heap.Pop(&m.h).(*heapItem)
	m.current = top
	for m.h.Len() > 0 && ikey.Equal(m.h[0].iter.Key(), top.iter.Key()) {
		dup := heap.Pop(&m.h).(*heapItem)
		if err := dup.iter.Next(); err != nil {
			return err
		}
		if dup.iter.Valid() {
			heap.Push(&m.h, dup)
		}
	}
	return nil
}

func (m *MergeIterator) Valid() bool {
	return m.current != nil
}

func (m *MergeIterator) Key() ikey.Key {
	return m.current.iter.Key()
}

func (m *MergeIterator) Value() []byte {
	return m.current.iter.Value()
}

func (m *MergeIterator) NumActive() int {
	n := m.h.Len()
	if m.current != nil {
		n++
	}
	return n
}

func (m *MergeIterator) Next() error {
	if m.current == nil {
		return nil
	}
	if err := m.current.iter.Next(); err != nil {
		return err
	}
	if m.current.iter.Valid() {
		heap.Push(&m.h, m.current)
	}
	return m.popCurrent()
}
