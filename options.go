package lsmkv

// options.go implements the engine's closed configuration surface.

import (
	"fmt"

	"github.com/lsmkv/lsmkv/internal/compaction"
	"github.com/lsmkv/lsmkv/internal/compress"
	"github.com/lsmkv/lsmkv/internal/logging"
	"github.com/lsmkv/lsmkv/internal/mvcc"
)

// Logger is an alias for the logging.Logger interface, so callers can
// supply their own implementation without importing internal/logging.
type Logger = logging.Logger

// Transaction is an alias for mvcc.Transaction, returned by Engine.NewTxn.
type Transaction = mvcc.Transaction

// CompressionCodec selects the block-level compression envelope.
type CompressionCodec = compress.Codec

// Compression codec constants.
const (
	CompressionNone   = compress.None
	CompressionSnappy = compress.Snappy
	CompressionLZ4    = compress.LZ4
	CompressionZstd   = compress.Zstd
)

// CompactionStyle selects which of the four compaction controllers governs
// this engine.
type CompactionStyle int

const (
	// CompactionStyleNone disables background compaction; L0 grows
	// unbounded except via an explicit ForceFullCompaction.
	CompactionStyleNone CompactionStyle = iota
	// CompactionStyleSimple triggers a full-level merge by file-count ratio.
	CompactionStyleSimple
	// CompactionStyleLeveled triggers per-level merges sized geometrically
	// from a base level, RocksDB-style.
	CompactionStyleLeveled
	// CompactionStyleTiered merges contiguous tiers by space amplification
	// or size ratio, RocksDB-universal-style.
	CompactionStyleTiered
)

func (s CompactionStyle) String() string {
	switch s {
	case CompactionStyleNone:
		return "None"
	case CompactionStyleSimple:
		return "Simple"
	case CompactionStyleLeveled:
		return "Leveled"
	case CompactionStyleTiered:
		return "Tiered"
	default:
		return "Unknown"
	}
}

// CompactionOptions is the closed, tagged union of per-style compaction
// parameters named in spec.md §6. Exactly the fields matching Style are
// meaningful.
type CompactionOptions struct {
	Style CompactionStyle

	Simple  compaction.SimpleLeveledOptions
	Leveled compaction.LeveledOptions
	Tiered  compaction.TieredOptions
}

// DefaultCompactionOptions returns leveled compaction with RocksDB-ish
// defaults, matching the teacher's default compaction style.
func DefaultCompactionOptions() CompactionOptions {
	return CompactionOptions{
		Style: CompactionStyleLeveled,
		Leveled: compaction.LeveledOptions{
			LevelSizeMultiplier:            4,
			Level0FileNumCompactionTrigger: 4,
			MaxLevels:                      6,
			BaseLevelSizeMB:                128,
		},
	}
}

// CompactionFilterKind is the closed set of compaction filter variants
// named in spec.md §6.
type CompactionFilterKind int

const (
	// CompactionFilterPrefix drops a user-key's retained newest-≤-watermark
	// version when it starts with Prefix.
	CompactionFilterPrefix CompactionFilterKind = iota
)

// CompactionFilter is a registered predicate consulted during compaction
// GC (§4.5): it may drop an entire user-key's retained version when it
// matches, but only for versions with ts ≤ watermark.
type CompactionFilter struct {
	Kind   CompactionFilterKind
	Prefix []byte
}

// Matches reports whether userKey should be dropped by this filter.
func (f CompactionFilter) Matches(userKey []byte) bool {
	switch f.Kind {
	case CompactionFilterPrefix:
		return len(userKey) >= len(f.Prefix) && string(userKey[:len(f.Prefix)]) == string(f.Prefix)
	default:
		return false
	}
}

// Options is the engine's closed configuration, mirroring spec.md §6
// exactly: block_size, target_sst_size, num_memtable_limit, enable_wal,
// serializable, compaction_options.
type Options struct {
	// BlockSize is the target size, in bytes, of an encoded block before
	// the entry that would overflow it rolls into a new block.
	BlockSize int

	// TargetSSTSize is the approximate size, in bytes, at which a memtable
	// is frozen for flush and at which a compaction output SST is rolled.
	TargetSSTSize int

	// NumMemtableLimit is the immutable memtable queue depth that triggers
	// the background flush loop: flushOldest runs once len(ImmMemtables)
	// reaches this count, rather than on every tick.
	NumMemtableLimit int

	// EnableWAL turns on per-memtable write-ahead logging.
	EnableWAL bool

	// Serializable turns on read/write conflict checking at transaction
	// commit, in addition to the default snapshot-isolation guarantee.
	Serializable bool

	// Compaction selects and configures the background compaction
	// controller.
	Compaction CompactionOptions

	// BitsPerKey configures the Bloom filter built into every SST.
	BitsPerKey int

	// BlockCompression selects the codec wrapped around each encoded block
	// before it is written to disk.
	BlockCompression CompressionCodec

	// Logger receives background-worker diagnostics (flush/compaction tick
	// failures, WAL/manifest I/O errors). If nil, a discarding logger is
	// used.
	Logger Logger
}

// DefaultOptions returns an Options with the teacher's usual defaults.
func DefaultOptions() Options {
	return Options{
		BlockSize:        4096,
		TargetSSTSize:    2 << 20, // 2MB
		NumMemtableLimit: 4,
		EnableWAL:        true,
		Serializable:     false,
		Compaction:       DefaultCompactionOptions(),
		BitsPerKey:       10,
		BlockCompression: CompressionNone,
		Logger:           nil,
	}
}

// Validate checks the closed enumeration's preconditions, returning an
// error (never panicking) on violation — opening with invalid options is a
// format/precondition error, not a programming error.
func (o Options) Validate() error {
	if o.BlockSize <= 0 {
		return fmt.Errorf("lsmkv: BlockSize must be positive, got %d", o.BlockSize)
	}
	if o.TargetSSTSize <= 0 {
		return fmt.Errorf("lsmkv: TargetSSTSize must be positive, got %d", o.TargetSSTSize)
	}
	if o.NumMemtableLimit < 1 {
		return fmt.Errorf("lsmkv: NumMemtableLimit must be at least 1, got %d", o.NumMemtableLimit)
	}
	switch o.Compaction.Style {
	case CompactionStyleNone, CompactionStyleSimple, CompactionStyleLeveled, CompactionStyleTiered:
	default:
		return fmt.Errorf("lsmkv: unknown compaction style %d", o.Compaction.Style)
	}
	return nil
}

func (o Options) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Discard
}
