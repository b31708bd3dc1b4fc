package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lsmkv/lsmkv/internal/ikey"
)

func buildBlock(t *testing.T, pairs [][2]string) *Block {
	t.Helper()
	b := NewBuilder(4096)
	for i, p := range pairs {
		require.True(t, b.Add(ikey.New([]byte(p[0]), uint64(i+1)), []byte(p[1])))
	}
	return b.Build()
}

func TestBuilderEncodeDecodeRoundTrips(t *testing.T) {
	pairs := [][2]string{{"apple", "1"}, {"application", "2"}, {"banana", "3"}}
	blk := buildBlock(t, pairs)

	raw := blk.Encode()
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, blk.NumEntries(), decoded.NumEntries())

	it := NewIterator(decoded)
	it.SeekToFirst()
	for _, p := range pairs {
		require.True(t, it.IsValid())
		require.Equal(t, p[0], string(it.Key().UserKey))
		require.Equal(t, p[1], string(it.Value()))
		it.Next()
	}
	require.False(t, it.IsValid())
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	blk := buildBlock(t, [][2]string{{"a", "1"}})
	raw := blk.Encode()
	raw[0] ^= 0xFF

	_, err := Decode(raw)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestAddRejectsEntryThatWouldExceedTargetSizeButNeverRejectsTheFirst(t *testing.T) {
	b := NewBuilder(10)
	require.True(t, b.Add(ikey.New([]byte("a-huge-key-that-alone-exceeds-the-target"), 1), []byte("v")))
	require.False(t, b.Add(ikey.New([]byte("b"), 2), []byte("v")), "a full block must reject a further entry")
}

func TestSeekToKeyFindsFirstEntryGreaterOrEqual(t *testing.T) {
	blk := buildBlock(t, [][2]string{{"a", "1"}, {"c", "2"}, {"e", "3"}})
	it := NewIterator(blk)

	it.SeekToKey(ikey.New([]byte("b"), ikey.TSMax))
	require.True(t, it.IsValid())
	require.Equal(t, "c", string(it.Key().UserKey))

	it.SeekToKey(ikey.New([]byte("z"), ikey.TSMax))
	require.False(t, it.IsValid())
}
