package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureParentDir_CreatesNestedDirs(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "data", "fieldsync", "device.db")

	require.NoError(t, EnsureParentDir(path))

	fi, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	require.NoError(t, EnsureParentDir(path), "idempotent")
}

func TestEnsureParentDir_SkipsSpecialDSNs(t *testing.T) {
	for _, dsn := range []string{"", ":memory:", "file:device.db?mode=memory"} {
		require.NoError(t, EnsureParentDir(dsn), dsn)
	}
}

func TestEnsureParentDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	require.Error(t, EnsureParentDir(filepath.Join(blocker, "device.db")))
}
