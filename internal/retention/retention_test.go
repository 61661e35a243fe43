package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/imagestore"
)

func TestSweepOnceEvictsExpiredImages(t *testing.T) {
	dir := t.TempDir()
	store := imagestore.New(dir)

	_, _, err := store.Write("req1", "old", 0, []byte("x"))
	require.NoError(t, err)

	s, err := New(store, time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.sweepOnce()

	require.Equal(t, 0, store.Count())
}

func TestSweepOnceKeepsFreshImages(t *testing.T) {
	dir := t.TempDir()
	store := imagestore.New(dir)

	_, _, err := store.Write("req1", "fresh", 0, []byte("x"))
	require.NoError(t, err)

	s, err := New(store, time.Hour, zap.NewNop())
	require.NoError(t, err)

	s.sweepOnce()

	require.Equal(t, 1, store.Count())
}

func TestStartAndStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	store := imagestore.New(dir)

	s, err := New(store, time.Hour, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}
