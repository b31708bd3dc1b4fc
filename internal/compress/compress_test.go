package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsForEveryCodec(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 64)

	for _, codec := range []Codec{None, Snappy, LZ4, Zstd} {
		codec := codec
		t.Run(codecName(codec), func(t *testing.T) {
			encoded, err := Encode(codec, data)
			require.NoError(t, err)

			decoded, err := Decode(codec, encoded)
			require.NoError(t, err)
			require.Equal(t, data, decoded)
		})
	}
}

func TestNoneIsAnIdentityTransform(t *testing.T) {
	data := []byte("uncompressed")
	encoded, err := Encode(None, data)
	require.NoError(t, err)
	require.Equal(t, data, encoded)
}

func TestUnknownCodecFailsToEncodeAndDecode(t *testing.T) {
	_, err := Encode(Codec(99), []byte("x"))
	require.Error(t, err)

	_, err = Decode(Codec(99), []byte("x"))
	require.Error(t, err)
}

func codecName(c Codec) string {
	switch c {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}
