package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestCanonicalLines(t *testing.T) {
	in := []byte("b.example.com\n\n  a.example.com  \nb.example.com\n")
	assert.Equal(t, "a.example.com\nb.example.com", string(CanonicalLines(in)))
}

func TestCanonicalLines_OrderIndependent(t *testing.T) {
	a := CanonicalLines([]byte("one\ntwo\nthree"))
	b := CanonicalLines([]byte("three\none\ntwo\n\none"))
	assert.Equal(t, a, b)
}

func TestHashContent_ProducerChangesHash(t *testing.T) {
	content := []byte("a.example.com")
	h1 := HashContent(content, "fp-one")
	h2 := HashContent(content, "fp-two")
	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashContent_StableAcrossProcesses(t *testing.T) {
	// The address is a pure function of content and producer; nothing
	// time- or host-dependent may leak in.
	h := HashContent([]byte("a.example.com\nb.example.com"), "fp")
	assert.Equal(t, HashContent([]byte("a.example.com\nb.example.com"), "fp"), h)
}

func TestStore_PutAndRead(t *testing.T) {
	s := newTestStore(t)

	art, err := s.PutLines(schemas.ArtifactTargets, "fp", []byte("b.example.com\na.example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, schemas.ArtifactTargets, art.Type)
	assert.Equal(t, "fp", art.Producer)

	data, err := s.Read(art.Hash)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com\nb.example.com", string(data))
}

func TestStore_PutIsWriteOnce(t *testing.T) {
	s := newTestStore(t)

	first, err := s.PutLines(schemas.ArtifactAssets, "fp", []byte("host-a\nhost-b"))
	require.NoError(t, err)
	second, err := s.PutLines(schemas.ArtifactAssets, "fp", []byte("host-b\nhost-a\n\n"))
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_RejectsInvalidType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(schemas.ArtifactType("bogus"), "fp", []byte("x"))
	require.Error(t, err)
}

func TestStore_GetUnknownHash(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReadMissingBackingFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	art, err := s.PutLines(schemas.ArtifactPaths, "fp", []byte("/login"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, art.Path)))

	_, err = s.Read(art.Hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReopenLoadsIndex(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	s, err := Open(dir, logger)
	require.NoError(t, err)
	art, err := s.PutLines(schemas.ArtifactTargets, "fp", []byte("a.example.com"))
	require.NoError(t, err)

	reopened, err := Open(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	data, err := reopened.Read(art.Hash)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", string(data))
}

func TestStore_MergedByType(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PutLines(schemas.ArtifactAssets, "fp-one", []byte("b.example.com\na.example.com"))
	require.NoError(t, err)
	_, err = s.PutLines(schemas.ArtifactAssets, "fp-two", []byte("c.example.com\na.example.com"))
	require.NoError(t, err)

	merged, hashes, err := s.MergedByType(schemas.ArtifactAssets)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com\nb.example.com\nc.example.com", string(merged))
	require.Len(t, hashes, 2)
	assert.Less(t, hashes[0], hashes[1])
}

func TestStore_MergedByType_Empty(t *testing.T) {
	s := newTestStore(t)
	merged, hashes, err := s.MergedByType(schemas.ArtifactFindings)
	require.NoError(t, err)
	assert.Empty(t, merged)
	assert.Empty(t, hashes)
}

func FuzzCanonicalLines(f *testing.F) {
	f.Add([]byte("a\nb\nc"))
	f.Add([]byte("  \n\n\t\n"))
	f.Add([]byte("dup\ndup\ndup"))
	f.Fuzz(func(t *testing.T, data []byte) {
		once := CanonicalLines(data)
		twice := CanonicalLines(once)
		if string(once) != string(twice) {
			t.Fatalf("canonicalization is not idempotent: %q vs %q", once, twice)
		}
	})
}
