package hashengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDigestSHA512(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.tgz")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	got, err := Digest(path, "sha512")
	require.NoError(t, err)
	require.Regexp(t, `^sha512-`, got)

	// Same content, same digest (deterministic).
	got2, err := Digest(path, "sha512")
	require.NoError(t, err)
	require.Equal(t, got, got2)
}

func TestDigestUnsupportedAlgo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.tgz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Digest(path, "md5")
	require.Error(t, err)
}

func TestParseAlgo(t *testing.T) {
	require.Equal(t, "sha512", ParseAlgo("sha512-abc123=="))
	require.Equal(t, "sha256", ParseAlgo("sha256-abc123=="))
	require.Equal(t, "sha512", ParseAlgo("garbage"))
}
