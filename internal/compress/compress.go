// Package compress wraps block bytes in a compression envelope before they
// reach disk. Compression is a transport concern between the SST builder
// and the file: the block's own encode/decode round-trips exactly as
// specified, independent of which codec (if any) wrapped it on the wire.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm applied to an encoded block.
// The SST builder writes one Codec byte ahead of each compressed block so
// the reader knows how to invert it.
type Codec uint8

const (
	// None stores blocks uncompressed.
	None Codec = iota
	// Snappy compresses blocks with github.com/golang/snappy.
	Snappy
	// LZ4 compresses blocks with github.com/pierrec/lz4/v4.
	LZ4
	// Zstd compresses blocks with github.com/klauspost/compress/zstd.
	Zstd
)

// Encode compresses data with the given codec.
func Encode(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("compress: lz4 encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("compress: lz4 encode: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd encode: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}
}

// Decode decompresses data previously produced by Encode with the same codec.
func Decode(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Snappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("compress: snappy decode: %w", err)
		}
		return out, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4 decode: %w", err)
		}
		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decode: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compress: unknown codec %d", codec)
	}
}
