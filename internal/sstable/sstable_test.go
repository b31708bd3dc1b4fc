package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/cache"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

func buildAndOpen(t *testing.T, codec compress.Codec, pairs [][2]string) *Table {
	t.Helper()
	b := NewBuilder(256, codec, 10)
	for i, p := range pairs {
		b.Add(ikey.New([]byte(p[0]), uint64(i+1)), []byte(p[1]))
	}
	data, firstKey, lastKey, maxTS := b.Finish()
	require.Equal(t, pairs[0][0], string(firstKey.UserKey))
	require.Equal(t, pairs[len(pairs)-1][0], string(lastKey.UserKey))
	require.Equal(t, uint64(len(pairs)), maxTS)

	path := filepath.Join(t.TempDir(), "1.sst")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	table, err := Open(1, path, cache.New(16))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, table.Close()) })
	return table
}

func manyPairs(n int) [][2]string {
	out := make([][2]string, n)
	for i := 0; i < n; i++ {
		out[i] = [2]string{fmt.Sprintf("key-%04d", i), "value"}
	}
	return out
}

func TestOpenReadsFooterAndBlockMeta(t *testing.T) {
	table := buildAndOpen(t, compress.None, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}})
	require.Equal(t, "a", string(table.FirstKey().UserKey))
	require.Equal(t, "c", string(table.LastKey().UserKey))
	require.Equal(t, uint64(3), table.MaxTS())
	require.Positive(t, table.NumBlocks())
	require.Positive(t, table.Size())
}

func TestMultipleBlocksSplitOnSize(t *testing.T) {
	table := buildAndOpen(t, compress.None, manyPairs(200))
	require.Greater(t, table.NumBlocks(), 1, "200 entries through a 256-byte target must span multiple blocks")
}

func TestMayContainNeverFalseNegative(t *testing.T) {
	pairs := manyPairs(100)
	table := buildAndOpen(t, compress.None, pairs)
	for _, p := range pairs {
		require.True(t, table.MayContain([]byte(p[0])))
	}
}

func TestFindBlockIdxLocatesContainingBlock(t *testing.T) {
	table := buildAndOpen(t, compress.None, manyPairs(200))
	idx := table.FindBlockIdx(ikey.New([]byte(table.LastKey().UserKey), ikey.TSMax))
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx, table.NumBlocks())
}

func TestCompressedBlocksRoundTripThroughReadBlockCached(t *testing.T) {
	for _, codec := range []compress.Codec{compress.None, compress.Snappy, compress.LZ4, compress.Zstd} {
		codec := codec
		t.Run(codecName(codec), func(t *testing.T) {
			table := buildAndOpen(t, codec, [][2]string{{"a", "1"}, {"b", "2"}})
			blk, err := table.ReadBlockCached(0)
			require.NoError(t, err)
			require.Equal(t, 2, blk.NumEntries())
		})
	}
}

func codecName(c compress.Codec) string {
	switch c {
	case compress.None:
		return "none"
	case compress.Snappy:
		return "snappy"
	case compress.LZ4:
		return "lz4"
	case compress.Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}
