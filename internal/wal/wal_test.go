package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndRecoverRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.wal")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("a"), 1, []byte("v1")))
	require.NoError(t, w.Append([]byte("b"), 2, nil))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	reopened, records, err := Recover(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, records, 2)
	require.Equal(t, Record{Key: []byte("a"), TS: 1, Value: []byte("v1")}, records[0])
	require.Equal(t, []byte("b"), records[1].Key)
	require.Equal(t, uint64(2), records[1].TS)
	require.Empty(t, records[1].Value)
}

func TestRecoverAppendsAfterReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.wal")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("a"), 1, []byte("v1")))
	require.NoError(t, w.Close())

	reopened, records, err := Recover(path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, reopened.Append([]byte("b"), 2, []byte("v2")))
	require.NoError(t, reopened.Close())

	_, records, err = Recover(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRecoverDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.wal")

	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("a"), 1, []byte("v1")))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Recover(path)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateFailsIfFileAlreadyExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.wal")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Create(path)
	require.Error(t, err)
}
