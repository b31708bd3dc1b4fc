package lsmkv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.TargetSSTSize = 1 << 20
	e, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestPutGetDelete(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	v, ok, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	require.NoError(t, e.Delete([]byte("a")))
	_, ok, err = e.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = e.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanOrdersByUserKeyAndRespectsBounds(t *testing.T) {
	e := openTestEngine(t)

	for _, k := range []string{"b", "d", "a", "c"} {
		require.NoError(t, e.Put([]byte(k), []byte(k+"v")))
	}

	it, err := e.Scan(ikey.IncludedBound([]byte("b")), ikey.ExcludedBound([]byte("d")))
	require.NoError(t, err)

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key().UserKey))
		require.NoError(t, it.Next())
	}
	require.Equal(t, []string{"b", "c"}, got)
}

// TestTransactionSnapshotIsolation pins a transaction's read at the ts
// before a later write, and checks the transaction never observes it
// (the S1/S2 snapshot-isolation property).
func TestTransactionSnapshotIsolation(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v1")))

	txn := e.NewTxn()
	defer txn.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v2")))

	v, ok, err := txn.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v), "transaction must not observe a write committed after its snapshot")

	v, ok, err = e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))
}

func TestTransactionLocalWritesAreVisibleBeforeCommit(t *testing.T) {
	e := openTestEngine(t)
	txn := e.NewTxn()

	require.NoError(t, txn.Put([]byte("k"), []byte("buffered")))
	v, ok, err := txn.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "buffered", string(v))

	_, ok, err = e.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "an uncommitted transaction's writes must not be visible to other readers")

	require.NoError(t, txn.Commit())
	v, ok, err = e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "buffered", string(v))
}

func TestSerializableConflictIsRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.Serializable = true
	e, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	require.NoError(t, e.Put([]byte("k"), []byte("v0")))

	txn := e.NewTxn()
	_, _, err = txn.Get([]byte("k")) // registers a read dependency on "k"
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("k"), []byte("v1")))

	require.NoError(t, txn.Put([]byte("k"), []byte("v2")))
	err = txn.Commit()
	require.Error(t, err, "a concurrent write to a key this transaction read must abort the commit")
}

func TestForceFlushMovesDataToSST(t *testing.T) {
	e := openTestEngine(t)
	for i := 0; i < 50; i++ {
		key := []byte{byte('a' + i%26), byte(i)}
		require.NoError(t, e.Put(key, []byte("value")))
	}

	require.NoError(t, e.ForceFlush())

	state := e.sm.Load()
	require.Zero(t, state.Memtable.ApproximateSize())
	require.Empty(t, state.ImmMemtables)
	require.NotEmpty(t, state.L0)

	for i := 0; i < 50; i++ {
		key := []byte{byte('a' + i%26), byte(i)}
		v, ok, err := e.Get(key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "value", string(v))
	}
}

func TestForceFullCompactionPreservesNewestVersionAndDropsOldTombstones(t *testing.T) {
	e := openTestEngine(t)

	require.NoError(t, e.Put([]byte("k"), []byte("v1")))
	require.NoError(t, e.ForceFlush())
	require.NoError(t, e.Put([]byte("k"), []byte("v2")))
	require.NoError(t, e.ForceFlush())
	require.NoError(t, e.Delete([]byte("other")))
	require.NoError(t, e.ForceFlush())

	require.NoError(t, e.ForceFullCompaction())

	v, ok, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))

	_, ok, err = e.Get([]byte("other"))
	require.NoError(t, err)
	require.False(t, ok, "a bottom-level tombstone's key must no longer resolve")

	state := e.sm.Load()
	require.Len(t, state.Levels, 1)
	require.Len(t, state.Levels[0].SSTIDs, 1, "a full compaction flattens everything into one run")
}

func TestCompactionFilterDropsMatchingKeysOnceBelowWatermark(t *testing.T) {
	e := openTestEngine(t)
	e.AddCompactionFilter(CompactionFilter{Kind: CompactionFilterPrefix, Prefix: []byte("tmp:")})

	require.NoError(t, e.Put([]byte("tmp:a"), []byte("1")))
	require.NoError(t, e.Put([]byte("keep"), []byte("2")))
	require.NoError(t, e.ForceFlush())
	require.NoError(t, e.ForceFullCompaction())

	_, ok, err := e.Get([]byte("tmp:a"))
	require.NoError(t, err)
	require.False(t, ok, "a compaction filter match must drop the key once its version is at/below the watermark")

	v, ok, err := e.Get([]byte("keep"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))
}

func TestRecoveryRestoresCommittedData(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()

	e, err := Open(dir, opts)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))
	require.NoError(t, e.ForceFlush())
	require.NoError(t, e.Put([]byte("c"), []byte("3")))
	require.NoError(t, e.Close())

	reopened, err := Open(dir, opts)
	require.NoError(t, err)
	defer reopened.Close()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		v, ok, err := reopened.Get([]byte(kv[0]))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, kv[1], string(v))
	}
}
