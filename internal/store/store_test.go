package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.Put(BucketPackages, "left-pad@1.3.0", []byte(`{"verified":true}`)))

	v, ok, err := s.Get(BucketPackages, "left-pad@1.3.0")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"verified":true}`, string(v))

	_, ok, err = s.Get(BucketPackages, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(BucketPackages, "left-pad@1.3.0"))
	_, ok, err = s.Get(BucketPackages, "left-pad@1.3.0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChunkKeyOrdering(t *testing.T) {
	s := openTest(t)

	for i := 2; i >= 0; i-- {
		require.NoError(t, s.Put(BucketChunks, ChunkKey("alpha", i), []byte{byte(i)}))
	}
	// An unrelated package must not appear in alpha's range scan.
	require.NoError(t, s.Put(BucketChunks, ChunkKey("beta", 0), []byte{9}))

	var order []int
	err := s.ForEach(BucketChunks, func(k string, v []byte) bool {
		if len(k) >= len(ChunkPrefix("alpha")) && k[:len(ChunkPrefix("alpha"))] == ChunkPrefix("alpha") {
			order = append(order, int(v[0]))
		}
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestReplacePrefixAtomicSwap(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.Put(BucketChunks, ChunkKey("pkg", 0), []byte("old-0")))
	require.NoError(t, s.Put(BucketChunks, ChunkKey("pkg", 1), []byte("old-1")))

	err := s.ReplacePrefix(BucketChunks, ChunkPrefix("pkg"), map[string][]byte{
		ChunkKey("pkg", 0): []byte("new-0"),
	})
	require.NoError(t, err)

	n, err := s.Count(BucketChunks)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	v, ok, err := s.Get(BucketChunks, ChunkKey("pkg", 0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new-0", string(v))
}

func TestNextSequenceMonotonic(t *testing.T) {
	s := openTest(t)

	a, err := s.NextSequence(BucketSecurityEvents)
	require.NoError(t, err)
	b, err := s.NextSequence(BucketSecurityEvents)
	require.NoError(t, err)
	require.Less(t, a, b)
}
