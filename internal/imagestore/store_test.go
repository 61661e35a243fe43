package imagestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteCreatesFileAndLedgerEntry(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	path, url, err := s.Write("req1", "A", 0, []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())
	require.FileExists(t, path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(got))

	require.Contains(t, url, "/images/req1_A_0_")
}

func TestWriteFailureReturnsErrorAndNoLedgerEntry(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))

	_, _, err := s.Write("req1", "A", 0, []byte("x"))
	require.Error(t, err)
	require.Equal(t, 0, s.Count())
}

func TestSweepEvictsExpiredEntriesAndDeletesFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, _, err := s.Write("req1", "old", 0, []byte("x"))
	require.NoError(t, err)
	oldPath := s.images[0].Path

	// Back-date the entry so it falls before the cutoff.
	s.images[0].CreatedAt = time.Now().Add(-time.Hour)

	_, _, err = s.Write("req1", "fresh", 0, []byte("y"))
	require.NoError(t, err)
	require.Equal(t, 2, s.Count())

	evicted := s.Sweep(time.Now().Add(-time.Minute), nil)
	require.Equal(t, 1, evicted)
	require.Equal(t, 1, s.Count())
	require.NoFileExists(t, oldPath)
}

func TestSweepTreatsMissingFileAsNonFatal(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, _, err := s.Write("req1", "A", 0, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.images[0].Path))
	s.images[0].CreatedAt = time.Now().Add(-time.Hour)

	var gotErr error
	evicted := s.Sweep(time.Now(), func(path string, err error) { gotErr = err })
	require.Equal(t, 1, evicted)
	require.Equal(t, 0, s.Count())
	require.Error(t, gotErr)
}
