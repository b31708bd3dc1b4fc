package iterators

import "github.com/lsmkv/lsmkv/internal/ikey"

// LowerBoundStartKey returns the internal key to seek a source iterator to
// for a scan's lower bound. Both Included and Excluded start at the same
// place — the newest possible version of the bound key — since TSMax sorts
// before every real version of a user-key; the caller then calls
// SkipExcludedLowerBound once on the merged stream to drop the bound key's
// versions entirely when it is Excluded.
func LowerBoundStartKey(b ikey.Bound) ikey.Key {
	if b.Kind == ikey.Unbounded {
		return ikey.New(nil, ikey.TSMax)
	}
	return ikey.New(b.Key, ikey.TSMax)
}

// SkipExcludedLowerBound advances it past every entry whose user-key equals
// bound.Key, when bound is Excluded. it must already be positioned at
// LowerBoundStartKey(bound). A no-op for Included and Unbounded bounds.
func SkipExcludedLowerBound(it Iterator, bound ikey.Bound) error {
	if bound.Kind != ikey.Excluded {
		return nil
	}
	for it.Valid() && string(it.Key().UserKey) == string(bound.Key) {
		if err := it.Next(); err != nil {
			return err
		}
	}
	return nil
}
