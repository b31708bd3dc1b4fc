// Package sstable implements the immutable on-disk sorted-string table: a
// sequence of data blocks, a block-meta index, a per-key Bloom filter, and
// a trailing footer.
//
// Layout: [codec_u8 block_bytes]* | bloom_filter | block_meta_array | footer
//
// Footer (24 bytes, trailing, read first on open):
//
//	max_ts_u64 | bloom_offset_u32 | bloom_len_u32 | meta_offset_u32 | meta_len_u32
//
// Block-meta array: count_u32 | entry* | checksum_u32
// Block-meta entry: offset_u32 | first_key_len_u16 | first_key_bytes | first_key_ts_u64 |
//
//	last_key_len_u16 | last_key_bytes | last_key_ts_u64
package sstable

import (
	"errors"
	"fmt"

	"github.com/lsmkv/lsmkv/internal/checksum"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/encoding"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

// FooterSize is the fixed trailing footer length in bytes.
const FooterSize = 8 + 4 + 4 + 4 + 4

// ErrChecksumMismatch is returned when the block-meta array's checksum does
// not match its encoded bytes.
var ErrChecksumMismatch = errors.New("sstable: checksum mismatch")

// ErrTruncated is returned when the footer or block-meta array cannot be
// parsed from the available bytes.
var ErrTruncated = errors.New("sstable: truncated")

// Footer is the trailing, fixed-size record read first during Open.
type Footer struct {
	MaxTS       uint64
	BloomOffset uint32
	BloomLen    uint32
	MetaOffset  uint32
	MetaLen     uint32
}

// Encode serializes the footer to FooterSize bytes.
func (f Footer) Encode() []byte {
	buf := make([]byte, 0, FooterSize)
	buf = encoding.AppendFixed64(buf, f.MaxTS)
	buf = encoding.AppendFixed32(buf, f.BloomOffset)
	buf = encoding.AppendFixed32(buf, f.BloomLen)
	buf = encoding.AppendFixed32(buf, f.MetaOffset)
	buf = encoding.AppendFixed32(buf, f.MetaLen)
	return buf
}

// DecodeFooter parses a Footer from its trailing FooterSize bytes.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterSize {
		return Footer{}, ErrTruncated
	}
	s := encoding.NewSlice(buf)
	maxTS, _ := s.GetFixed64()
	bloomOff, _ := s.GetFixed32()
	bloomLen, _ := s.GetFixed32()
	metaOff, _ := s.GetFixed32()
	metaLen, _ := s.GetFixed32()
	return Footer{
		MaxTS:       maxTS,
		BloomOffset: bloomOff,
		BloomLen:    bloomLen,
		MetaOffset:  metaOff,
		MetaLen:     metaLen,
	}, nil
}

// BlockMeta describes one data block's location and key range.
type BlockMeta struct {
	Offset   uint32
	FirstKey ikey.Key
	LastKey  ikey.Key
}

// EncodeBlockMeta serializes the block-meta array with its own checksum.
func EncodeBlockMeta(metas []BlockMeta) []byte {
	buf := make([]byte, 0, 4+64*len(metas)+4)
	buf = encoding.AppendFixed32(buf, uint32(len(metas)))
	for _, m := range metas {
		buf = encoding.AppendFixed32(buf, m.Offset)
		buf = encoding.AppendFixed16(buf, uint16(len(m.FirstKey.UserKey)))
		buf = append(buf, m.FirstKey.UserKey...)
		buf = encoding.AppendFixed64(buf, m.FirstKey.TS)
		buf = encoding.AppendFixed16(buf, uint16(len(m.LastKey.UserKey)))
		buf = append(buf, m.LastKey.UserKey...)
		buf = encoding.AppendFixed64(buf, m.LastKey.TS)
	}
	crc := checksum.Value(buf)
	buf = encoding.AppendFixed32(buf, crc)
	return buf
}

// DecodeBlockMeta parses a block-meta array, verifying its checksum.
func DecodeBlockMeta(buf []byte) ([]BlockMeta, error) {
	if len(buf) < 8 {
		return nil, ErrTruncated
	}
	body := buf[:len(buf)-4]
	wantCRC := encoding.DecodeFixed32(buf[len(buf)-4:])
	if gotCRC := checksum.Value(body); gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: got %#x want %#x", ErrChecksumMismatch, gotCRC, wantCRC)
	}
	s := encoding.NewSlice(body)
	count32, ok := s.GetFixed32()
	if !ok {
		return nil, ErrTruncated
	}
	count := int(count32)
	metas := make([]BlockMeta, 0, count)
	for i := 0; i < count; i++ {
		offset, ok := s.GetFixed32()
		if !ok {
			return nil, ErrTruncated
		}
		fkLen, ok := s.GetFixed16()
		if !ok {
			return nil, ErrTruncated
		}
		fkBytes, ok := s.GetBytes(int(fkLen))
		if !ok {
			return nil, ErrTruncated
		}
		fkTS, ok := s.GetFixed64()
		if !ok {
			return nil, ErrTruncated
		}
		lkLen, ok := s.GetFixed16()
		if !ok {
			return nil, ErrTruncated
		}
		lkBytes, ok := s.GetBytes(int(lkLen))
		if !ok {
			return nil, ErrTruncated
		}
		lkTS, ok := s.GetFixed64()
		if !ok {
			return nil, ErrTruncated
		}
		metas = append(metas, BlockMeta{
			Offset:   offset,
			FirstKey: ikey.New(append([]byte(nil), fkBytes...), fkTS),
			LastKey:  ikey.New(append([]byte(nil), lkBytes...), lkTS),
		})
	}
	return metas, nil
}

// encodeBlockRecord wraps compressed block bytes with their leading codec tag.
func encodeBlockRecord(codec compress.Codec, raw []byte) ([]byte, error) {
	compressed, err := compress.Encode(codec, raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(compressed))
	out = append(out, byte(codec))
	out = append(out, compressed...)
	return out, nil
}

// decodeBlockRecord unwraps a codec-tagged block record back to raw
// (still block-format-encoded) bytes.
func decodeBlockRecord(record []byte) ([]byte, error) {
	if len(record) < 1 {
		return nil, ErrTruncated
	}
	codec := compress.Codec(record[0])
	return compress.Decode(codec, record[1:])
}
