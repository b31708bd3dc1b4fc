package iterators

import "github.com/lsmkv/lsmkv/internal/ikey"

// TwoMergeIterator merges two heterogeneous sources, A and B. On a key
// collision, A wins and both sides advance, dropping B's duplicate.
type TwoMergeIterator struct {
	a, b     Iterator
	useA     bool
}

// NewTwoMergeIterator builds a TwoMergeIterator over a and b, both assumed
// already positioned (e.g. via SeekToFirst/SeekToKey).
func NewTwoMergeIterator(a, b Iterator) (*TwoMergeIterator, error) {
	t := &TwoMergeIterator{a: a, b: b}
	if err := t.skipB(); err != nil {
		return nil, err
	}
	t.chooseSide()
	return t, nil
}

// skipB advances b past any entry whose key equals a's current key, since
// a wins such collisions.
func (t *TwoMergeIterator) skipB() error {
	for t.a.Valid() && t.b.Valid() && ikey.Equal(t.a.Key(), t.b.Key()) {
		if err := t.b.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TwoMergeIterator) chooseSide() {
	switch {
	case !t.a.Valid():
		t.useA = false
	case !t.b.Valid():
		t.useA = true
	default:
		t.useA = ikey.Compare(t.a.Key(), t.b.Key()) <= 0
	}
}

func (t *TwoMergeIterator) Valid() bool {
	if t.useA {
		return t.a.Valid()
	}
	return t.b.Valid()
}

func (t *TwoMergeIterator) Key() ikey.Key {
	if t.useA {
		return t.a.Key()
	}
	return t.b.Key()
}

func (t *TwoMergeIterator) Value() []byte {
	if t.useA {
		return t.a.Value()
	}
	return t.b.Value()
}

func (t *TwoMergeIterator) NumActive() int {
	return t.a.NumActive() + t.b.NumActive()
}

func (t *TwoMergeIterator) Next() error {
	if t.useA {
		if err := t.a.Next(); err != nil {
			return err
		}
	} else {
		if err := t.b.Next(); err != nil {
			return err
		}
	}
	if err := t.skipB(); err != nil {
		return err
	}
	t.chooseSide()
	return nil
}
