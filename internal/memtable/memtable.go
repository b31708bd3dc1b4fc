// Package memtable implements the in-memory ordered map that accepts all
// engine writes: a concurrent skiplist keyed by internal key, optionally
// backed 1:1 by a write-ahead log.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/wal"
)

// Entry is a single (internal key, value) pair, used for materialized scan
// results.
type Entry struct {
	Key   ikey.Key
	Value []byte
}

// Memtable is an ordered map from internal key to value. Keys are never
// removed; deletions are represented as an empty value (a tombstone).
type Memtable struct {
	ID   uint32
	mu   sync.RWMutex
	sl   *skiplist
	size atomic.Int64
	wal  *wal.WAL
}

// New creates an empty memtable with the given id. If w is non-nil, every
// Put is first durably appended to it.
func New(id uint32, w *wal.WAL) *Memtable {
	return &Memtable{ID: id, sl: newSkiplist(), wal: w}
}

// Recover rebuilds a memtable from a WAL previously written by a memtable
// with the same id, replaying every record into the skiplist.
func Recover(id uint32, w *wal.WAL, records []wal.Record) *Memtable {
	m := New(id, w)
	for _, r := range records {
		m.sl.Put(ikey.New(r.Key, r.TS), r.Value)
		m.size.Add(int64(len(r.Key) + len(r.Value)))
	}
	return m
}

// Put inserts value under (key, ts). If the memtable is WAL-backed, the
// record is appended to the WAL first.
func (m *Memtable) Put(userKey []byte, value []byte, ts uint64) error {
	if m.wal != nil {
		if err := m.wal.Append(userKey, ts, value); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sl.Put(ikey.New(userKey, ts), value)
	m.mu.Unlock()
	m.size.Add(int64(len(userKey) + len(value) + 16))
	return nil
}

// Get returns the value of the newest version of userKey with ts <= readTS,
// or (nil, false) if no such version exists. A visible tombstone is
// returned as (empty value, true); callers distinguish "absent" from
// "deleted" via len(value)==0 at a higher layer, per the engine's tombstone
// convention.
func (m *Memtable) Get(userKey []byte, readTS uint64) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.sl.seekGE(ikey.New(userKey, readTS))
	if n == nil || string(n.key.UserKey) != string(userKey) {
		return nil, false
	}
	return n.value, true
}

// ApproximateSize returns the approximate number of raw bytes written.
func (m *Memtable) ApproximateSize() int64 {
	return m.size.Load()
}

// Scan returns every entry with internal key >= start whose user-key
// satisfies upper, in ascending internal-key order. The result is
// materialized eagerly under a read lock rather than exposing a live
// iterator over the skiplist.
func (m *Memtable) Scan(start ikey.Key, upper ikey.Bound) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for n := m.sl.seekGE(start); n != nil; n = n.next[0] {
		if !withinUpper(n.key.UserKey, upper) {
			break
		}
		out = append(out, Entry{Key: n.key, Value: n.value})
	}
	return out
}

func withinUpper(userKey []byte, b ikey.Bound) bool {
	switch b.Kind {
	case ikey.Unbounded:
		return true
	case ikey.Included:
		return compareBytes(userKey, b.Key) <= 0
	case ikey.Excluded:
		return compareBytes(userKey, b.Key) < 0
	default:
		return true
	}
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Sync flushes the backing WAL, if any.
func (m *Memtable) Sync() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Sync()
}

// CloseWAL closes the backing WAL file, if any.
func (m *Memtable) CloseWAL() error {
	if m.wal == nil {
		return nil
	}
	return m.wal.Close()
}
