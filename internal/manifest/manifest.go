// Package manifest implements the durable log of structural events (new
// memtable, flush, compaction) that lets the engine rebuild its on-disk
// layout on recovery without replaying every WAL from scratch. Each record
// is JSON-encoded and framed as len_u32 | json_bytes | crc32c_u32.
package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lsmkv/lsmkv/internal/checksum"
	"github.com/lsmkv/lsmkv/internal/encoding"
)

// ErrCorrupt is returned when a record's checksum does not match.
var ErrCorrupt = errors.New("manifest: corrupt record")

// RecordType discriminates the variant of a Record.
type RecordType string

const (
	// RecordFlush marks that the memtable with ID became an immutable L0 SST.
	RecordFlush RecordType = "flush"
	// RecordNewMemtable marks that a fresh active memtable with ID was created.
	RecordNewMemtable RecordType = "new_memtable"
	// RecordCompaction marks that a compaction task ran, producing OutputIDs.
	RecordCompaction RecordType = "compaction"
)

// Record is one manifest entry. Task is the JSON encoding of a
// compaction-controller-specific task description; manifest itself does not
// interpret it, only the compaction package that produced it does.
type Record struct {
	Type      RecordType      `json:"type"`
	ID        uint32          `json:"id,omitempty"`
	Task      json.RawMessage `json:"task,omitempty"`
	OutputIDs []uint32        `json:"output_ids,omitempty"`
}

// FlushRecord builds a RecordFlush entry.
func FlushRecord(id uint32) Record { return Record{Type: RecordFlush, ID: id} }

// NewMemtableRecord builds a RecordNewMemtable entry.
func NewMemtableRecord(id uint32) Record { return Record{Type: RecordNewMemtable, ID: id} }

// CompactionRecord builds a RecordCompaction entry, JSON-encoding task.
func CompactionRecord(task any, outputIDs []uint32) (Record, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return Record{}, fmt.Errorf("manifest: encode task: %w", err)
	}
	return Record{Type: RecordCompaction, Task: raw, OutputIDs: outputIDs}, nil
}

// Manifest is the append-only structural event log.
type Manifest struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// Create opens a new manifest file at path, failing if one already exists.
func Create(path string) (*Manifest, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("manifest: create: %w", err)
	}
	return &Manifest{file: f, w: bufio.NewWriter(f)}, nil
}

// Recover reads every record from the manifest at path, in order, and
// reopens it for further appends.
func Recover(path string) (*Manifest, []Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: read: %w", err)
	}
	var records []Record
	s := encoding.NewSlice(raw)
	for s.Remaining() > 0 {
		recLen, ok := s.GetFixed32()
		if !ok {
			return nil, nil, fmt.Errorf("manifest: %w", ErrCorrupt)
		}
		body, ok := s.GetBytes(int(recLen))
		if !ok {
			return nil, nil, fmt.Errorf("manifest: %w", ErrCorrupt)
		}
		wantCRC, ok := s.GetFixed32()
		if !ok {
			return nil, nil, fmt.Errorf("manifest: %w", ErrCorrupt)
		}
		if checksum.Value(body) != wantCRC {
			return nil, nil, ErrCorrupt
		}
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, nil, fmt.Errorf("manifest: decode record: %w", err)
		}
		records = append(records, rec)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: reopen: %w", err)
	}
	return &Manifest{file: f, w: bufio.NewWriter(f)}, records, nil
}

// AddRecord appends and durably syncs one record. Manifest writes are rare
// (one per flush/compaction), so syncing every record keeps recovery simple
// at negligible cost.
func (m *Manifest) AddRecord(rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("manifest: encode record: %w", err)
	}
	buf := make([]byte, 0, 4+len(body)+4)
	buf = encoding.AppendFixed32(buf, uint32(len(body)))
	buf = append(buf, body...)
	buf = encoding.AppendFixed32(buf, checksum.Value(body))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.w.Write(buf); err != nil {
		return err
	}
	if err := m.w.Flush(); err != nil {
		return err
	}
	return m.file.Sync()
}

// Close closes the manifest file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}
