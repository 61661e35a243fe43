package secretauth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeAndVerify(t *testing.T) {
	a := New("s3cret")

	mac := a.Compute("n1")
	require.True(t, a.Verify("n1", mac))
}

func TestVerifyRejectsTamperedInputs(t *testing.T) {
	a := New("s3cret")
	mac := a.Compute("n1")

	require.False(t, a.Verify("n2", mac))
	require.False(t, New("wrong-secret").Verify("n1", mac))
	require.False(t, a.Verify("n1", "deadbeef"))
}

func TestLoadOrGeneratePersistsAndReuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.key")

	a1, loaded1, err := LoadOrGenerate(path)
	require.NoError(t, err)
	require.False(t, loaded1)

	a2, loaded2, err := LoadOrGenerate(path)
	require.NoError(t, err)
	require.True(t, loaded2)

	mac := a1.Compute("nonce")
	require.True(t, a2.Verify("nonce", mac))
}
