package integrity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanregistry/registryproxy/internal/audit"
	"github.com/lanregistry/registryproxy/internal/hashengine"
	"github.com/lanregistry/registryproxy/internal/store"
	"github.com/lanregistry/registryproxy/internal/upstream"
)

func newTestVerifier(t *testing.T, integrityForVersion string) (*Verifier, *audit.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"versions":{"1.0.0":{"dist":{"integrity":%q}}}}`, integrityForVersion)
	}))
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := audit.New(db)
	v := New(srv.URL, upstream.New(), a, db)
	return v, a, srv
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg-1.0.0.tgz")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVerifySuccess(t *testing.T) {
	content := "tarball-bytes"
	digest, err := hashengine.NewHasher("sha512")
	require.NoError(t, err)
	digest.Write([]byte(content))
	expected := hashengine.Encode("sha512", digest.Sum(nil))

	v, a, _ := newTestVerifier(t, expected)
	path := writeTempFile(t, content)

	result := v.Verify(context.Background(), "pkg", "1.0.0", path)
	require.True(t, result.Verified)
	require.False(t, result.Threat)
	require.NoError(t, result.Err)

	_, err = os.Stat(path)
	require.NoError(t, err, "verified file must remain on disk")

	stats, err := a.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Successful)
}

func TestVerifyThreatDetected(t *testing.T) {
	v, a, _ := newTestVerifier(t, "sha512-doesnotmatch")
	path := writeTempFile(t, "tarball-bytes")

	result := v.Verify(context.Background(), "pkg", "1.0.0", path)
	require.False(t, result.Verified)
	require.True(t, result.Threat)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "mismatched file must be deleted")

	stats, err := a.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.ThreatsDetected)
}

func TestVerifyFailureOnMissingIntegrity(t *testing.T) {
	v, a, _ := newTestVerifier(t, "")
	path := writeTempFile(t, "tarball-bytes")

	result := v.Verify(context.Background(), "pkg", "1.0.0", path)
	require.False(t, result.Verified)
	require.False(t, result.Threat)
	require.Error(t, result.Err)

	stats, err := a.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failures)
}
