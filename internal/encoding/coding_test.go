package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndDecodeFixedWidthRoundTrip(t *testing.T) {
	var buf []byte
	buf = AppendFixed16(buf, 0xABCD)
	buf = AppendFixed32(buf, 0xDEADBEEF)
	buf = AppendFixed64(buf, 0x0123456789ABCDEF)

	s := NewSlice(buf)
	v16, ok := s.GetFixed16()
	require.True(t, ok)
	require.Equal(t, uint16(0xABCD), v16)

	v32, ok := s.GetFixed32()
	require.True(t, ok)
	require.Equal(t, uint32(0xDEADBEEF), v32)

	v64, ok := s.GetFixed64()
	require.True(t, ok)
	require.Equal(t, uint64(0x0123456789ABCDEF), v64)

	require.Zero(t, s.Remaining())
}

func TestGetBytesReadsExactLengthAndAdvances(t *testing.T) {
	s := NewSlice([]byte("hello world"))
	got, ok := s.GetBytes(5)
	require.True(t, ok)
	require.Equal(t, "hello", string(got))
	require.Equal(t, 6, s.Remaining())
	require.Equal(t, " world", string(s.Data()))
}

func TestGetsReportFalseOnShortInput(t *testing.T) {
	s := NewSlice([]byte{1})
	_, ok := s.GetFixed16()
	require.False(t, ok)

	s = NewSlice([]byte{1, 2, 3})
	_, ok = s.GetFixed32()
	require.False(t, ok)

	s = NewSlice(nil)
	_, ok = s.GetBytes(1)
	require.False(t, ok)
}

func TestAdvanceMovesCursor(t *testing.T) {
	s := NewSlice([]byte{1, 2, 3, 4})
	s.Advance(2)
	require.Equal(t, 2, s.Remaining())
	require.Equal(t, []byte{3, 4}, s.Data())
}
