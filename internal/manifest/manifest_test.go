package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRecordAndRecoverRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")

	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddRecord(NewMemtableRecord(1)))
	require.NoError(t, m.AddRecord(FlushRecord(1)))

	rec, err := CompactionRecord(map[string]any{"kind": "full"}, []uint32{7, 8})
	require.NoError(t, err)
	require.NoError(t, m.AddRecord(rec))
	require.NoError(t, m.Close())

	reopened, records, err := Recover(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, records, 3)
	require.Equal(t, NewMemtableRecord(1), records[0])
	require.Equal(t, FlushRecord(1), records[1])
	require.Equal(t, RecordCompaction, records[2].Type)
	require.Equal(t, []uint32{7, 8}, records[2].OutputIDs)
}

func TestRecoverAllowsFurtherAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")

	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddRecord(NewMemtableRecord(1)))
	require.NoError(t, m.Close())

	reopened, records, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, reopened.AddRecord(FlushRecord(1)))
	require.NoError(t, reopened.Close())

	_, records, err = Recover(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRecoverDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")

	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddRecord(NewMemtableRecord(1)))
	require.NoError(t, m.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Recover(path)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateFailsIfManifestAlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MANIFEST")
	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = Create(path)
	require.Error(t, err)
}
