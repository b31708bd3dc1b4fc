package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatermarkTracksSmallestActiveReader(t *testing.T) {
	w := NewWatermark()
	_, ok := w.Watermark()
	require.False(t, ok, "no readers yet")

	w.AddReader(5)
	w.AddReader(3)
	w.AddReader(3)

	ts, ok := w.Watermark()
	require.True(t, ok)
	require.Equal(t, uint64(3), ts)
	require.Equal(t, 2, w.NumRetainedSnapshots())

	w.RemoveReader(3)
	ts, ok = w.Watermark()
	require.True(t, ok)
	require.Equal(t, uint64(3), ts, "one reader at 3 remains")

	w.RemoveReader(3)
	ts, ok = w.Watermark()
	require.True(t, ok)
	require.Equal(t, uint64(5), ts)

	w.RemoveReader(5)
	_, ok = w.Watermark()
	require.False(t, ok)
}

func TestManagerWatermarkFallsBackToLatestCommitTSWithNoReaders(t *testing.T) {
	m := NewManager(7)
	require.Equal(t, uint64(7), m.Watermark())

	ts := m.NewReadTS()
	require.Equal(t, uint64(7), ts)
	require.Equal(t, uint64(7), m.Watermark())
	m.ReleaseReadTS(ts)
}

func TestBeginWritePublishWriteAdvancesCommitTS(t *testing.T) {
	m := NewManager(0)
	m.WriteLock.Lock()
	ts := m.BeginWrite()
	require.Equal(t, uint64(1), ts)
	m.PublishWrite(ts)
	m.WriteLock.Unlock()

	require.Equal(t, uint64(1), m.LatestCommitTS())
}

func TestCommitSerializableDetectsReadWriteConflict(t *testing.T) {
	m := NewManager(0)

	readTS := m.NewReadTS()
	defer m.ReleaseReadTS(readTS)

	// A transaction writes key "a" (hash 1) and commits at ts 1.
	_, err := m.CommitSerializable(0, map[uint32]bool{1: true}, nil, func(ts uint64) error {
		return nil
	})
	require.NoError(t, err)

	// A transaction that read key "a" before that write, committing after
	// it, must be rejected.
	_, err = m.CommitSerializable(readTS, nil, map[uint32]bool{1: true}, func(ts uint64) error {
		return nil
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestCommitSerializableAllowsDisjointReadWriteSets(t *testing.T) {
	m := NewManager(0)

	readTS := m.NewReadTS()
	defer m.ReleaseReadTS(readTS)

	_, err := m.CommitSerializable(0, map[uint32]bool{1: true}, nil, func(ts uint64) error {
		return nil
	})
	require.NoError(t, err)

	_, err = m.CommitSerializable(readTS, nil, map[uint32]bool{2: true}, func(ts uint64) error {
		return nil
	})
	require.NoError(t, err, "disjoint key hashes never conflict")
}
