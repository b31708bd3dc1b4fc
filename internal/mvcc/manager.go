package mvcc

import (
	"errors"
	"sync"
)

// ErrConflict is returned by a serializable commit whose read set was
// invalidated by a concurrently committed write.
var ErrConflict = errors.New("mvcc: serializable conflict")

// committedTxn is the write-key-hash set of one committed transaction,
// retained only long enough for later commits to check against it.
type committedTxn struct {
	writeHashes map[uint32]bool
}

// Manager owns the commit-ts counter, the reader watermark, and (in
// serializable mode) the short history of recently committed write sets
// used for conflict detection. WriteLock additionally serializes write
// batches end to end so WAL append order matches memtable insertion order;
// callers performing a direct (non-transactional) write hold it for the
// whole batch.
type Manager struct {
	WriteLock sync.Mutex

	tsMu      sync.Mutex
	commitTS  uint64
	watermark *Watermark

	commitLock sync.Mutex
	committed  map[uint64]committedTxn
}

// NewManager builds a Manager whose commit-ts counter starts at initialTS
// (the maximum timestamp observed across recovered memtables and SSTs).
func NewManager(initialTS uint64) *Manager {
	return &Manager{
		commitTS:  initialTS,
		watermark: NewWatermark(),
		committed: make(map[uint64]committedTxn),
	}
}

// LatestCommitTS returns the most recently published commit timestamp.
func (m *Manager) LatestCommitTS() uint64 {
	m.tsMu.Lock()
	defer m.tsMu.Unlock()
	return m.commitTS
}

// Watermark returns the smallest active reader ts, or the latest commit ts
// if no reader is active.
func (m *Manager) Watermark() uint64 {
	if ts, ok := m.watermark.Watermark(); ok {
		return ts
	}
	return m.LatestCommitTS()
}

// BeginWrite reserves the next commit timestamp for a write batch. Callers
// must hold WriteLock for the duration between BeginWrite and PublishWrite
// so that the ts assignment and the memtable/WAL insertion it guards appear
// in the same order to every subsequent reader.
func (m *Manager) BeginWrite() uint64 {
	m.tsMu.Lock()
	defer m.tsMu.Unlock()
	return m.commitTS + 1
}

// PublishWrite makes ts (returned by a prior BeginWrite) the new latest
// commit timestamp.
func (m *Manager) PublishWrite(ts uint64) {
	m.tsMu.Lock()
	defer m.tsMu.Unlock()
	m.commitTS = ts
}

// NewReadTS registers a new reader at the current commit ts (without
// incrementing it) and returns that ts.
func (m *Manager) NewReadTS() uint64 {
	m.tsMu.Lock()
	ts := m.commitTS
	m.tsMu.Unlock()
	m.watermark.AddReader(ts)
	return ts
}

// ReleaseReadTS unregisters a reader previously returned by NewReadTS.
func (m *Manager) ReleaseReadTS(ts uint64) {
	m.watermark.RemoveReader(ts)
}

// CommitSerializable runs a transaction's commit under both WriteLock (so
// its ts assignment serializes with direct, non-transactional writes via
// BeginWrite/PublishWrite) and the commit serialization lock: it checks
// readHashes against every transaction that committed with commit_ts in
// (readTS, currentTS], then assigns a new commit_ts and invokes apply with
// it, then records writeHashes for future conflict checks. apply must
// perform the actual write (WAL append + memtable insertion) at the given
// ts.
func (m *Manager) CommitSerializable(readTS uint64, writeHashes, readHashes map[uint32]bool, apply func(ts uint64) error) (uint64, error) {
	m.WriteLock.Lock()
	defer m.WriteLock.Unlock()
	m.commitLock.Lock()
	defer m.commitLock.Unlock()

	currentTS := m.LatestCommitTS()
	for cts, txn := range m.committed {
		if cts <= readTS || cts > currentTS {
			continue
		}
		for h := range readHashes {
			if txn.writeHashes[h] {
				return 0, ErrConflict
			}
		}
	}

	newTS := currentTS + 1
	if err := apply(newTS); err != nil {
		return 0, err
	}
	m.PublishWrite(newTS)
	m.committed[newTS] = committedTxn{writeHashes: writeHashes}
	m.gcCommitted()
	return newTS, nil
}

// gcCommitted drops committed-transaction bookkeeping no longer needed by
// any live reader. Must be called with commitLock held.
func (m *Manager) gcCommitted() {
	wm := m.Watermark()
	for ts := range m.committed {
		if ts <= wm {
			delete(m.committed, ts)
		}
	}
}
