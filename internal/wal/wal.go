// Package wal implements the per-memtable write-ahead log: every record is
// appended as key_len(2) | key | ts(8) | value_len(2) | value | crc32c(4),
// all fixed-width fields little-endian, so a memtable's mutations can be
// replayed after a crash before its SST is durable.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lsmkv/lsmkv/internal/checksum"
	"github.com/lsmkv/lsmkv/internal/encoding"
)

// ErrCorrupt is returned by Recover when a record's checksum does not match.
var ErrCorrupt = errors.New("wal: corrupt record")

// Record is one decoded WAL entry.
type Record struct {
	Key   []byte
	TS    uint64
	Value []byte
}

// WAL is an append-only, checksum-framed log file shared by a single
// memtable's lifetime.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Create opens a new WAL file at path, failing if one already exists.
func Create(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create: %w", err)
	}
	return &WAL{file: f, w: bufio.NewWriter(f)}, nil
}

// Recover reads every record from the WAL file at path, in order, and
// reopens it for further appends. Returns ErrCorrupt if a checksum fails.
func Recover(path string) (*WAL, []Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: read: %w", err)
	}
	var records []Record
	s := encoding.NewSlice(raw)
	for s.Remaining() > 0 {
		start := s.Data()
		keyLen, ok := s.GetFixed16()
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		key, ok := s.GetBytes(int(keyLen))
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		ts, ok := s.GetFixed64()
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		valueLen, ok := s.GetFixed16()
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		value, ok := s.GetBytes(int(valueLen))
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		wantCRC, ok := s.GetFixed32()
		if !ok {
			return nil, nil, fmt.Errorf("wal: %w", ErrCorrupt)
		}
		recordLen := len(start) - s.Remaining()
		body := start[:recordLen-4]
		if checksum.Value(body) != wantCRC {
			return nil, nil, ErrCorrupt
		}
		records = append(records, Record{Key: append([]byte(nil), key...), TS: ts, Value: append([]byte(nil), value...)})
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("wal: reopen: %w", err)
	}
	return &WAL{file: f, w: bufio.NewWriter(f)}, records, nil
}

// Append durably queues one record. Call Sync to guarantee it survives a
// crash.
func (w *WAL) Append(key []byte, ts uint64, value []byte) error {
	buf := make([]byte, 0, 2+len(key)+8+2+len(value)+4)
	buf = encoding.AppendFixed16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = encoding.AppendFixed64(buf, ts)
	buf = encoding.AppendFixed16(buf, uint16(len(value)))
	buf = append(buf, value...)
	buf = encoding.AppendFixed32(buf, checksum.Value(buf))

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}

// Sync flushes buffered writes and fsyncs the underlying file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Remove deletes the WAL file at path, called once its memtable has been
// durably flushed to an SST.
func Remove(path string) error {
	return os.Remove(path)
}
