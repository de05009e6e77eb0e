package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigest_Deterministic(t *testing.T) {
	a := Digest([]byte(`{"bp":"120/80"}`), false)
	b := Digest([]byte(`{"bp":"120/80"}`), false)
	require.Equal(t, a, b)
	require.Len(t, a, 32)
}

func TestDigest_TombstoneChangesDigest(t *testing.T) {
	require.NotEqual(t, Digest([]byte("x"), false), Digest([]byte("x"), true))
}

func TestVerify(t *testing.T) {
	d := Digest([]byte("payload"), false)
	require.True(t, Verify([]byte("payload"), false, d))
	require.False(t, Verify([]byte("payl0ad"), false, d))
	require.False(t, Verify([]byte("payload"), true, d))
	require.False(t, Verify([]byte("payload"), false, d[:16]))
}
