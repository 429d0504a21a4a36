package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/artifact"
)

func TestFingerprint_InputOrderIndependent(t *testing.T) {
	a := Fingerprint("httpx", "1.6.0", []string{"hash-b", "hash-a"})
	b := Fingerprint("httpx", "1.6.0", []string{"hash-a", "hash-b"})
	assert.Equal(t, a, b)
}

func TestFingerprint_SensitiveToEveryComponent(t *testing.T) {
	base := Fingerprint("httpx", "1.6.0", []string{"hash-a"})

	assert.NotEqual(t, base, Fingerprint("dnsx", "1.6.0", []string{"hash-a"}))
	assert.NotEqual(t, base, Fingerprint("httpx", "1.7.0", []string{"hash-a"}))
	assert.NotEqual(t, base, Fingerprint("httpx", "1.6.0", []string{"hash-b"}))
	assert.NotEqual(t, base, Fingerprint("httpx", "1.6.0", []string{"hash-a", "hash-b"}))
}

func TestFingerprint_NoDelimiterCollisions(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide across field boundaries.
	assert.NotEqual(t,
		Fingerprint("toolab", "c", []string{"x"}),
		Fingerprint("toola", "bc", []string{"x"}))
}

func TestFingerprint_StableAcrossRuns(t *testing.T) {
	fp1 := Fingerprint("nuclei", "3.0.1", []string{"aaa", "bbb"})
	fp2 := Fingerprint("nuclei", "3.0.1", []string{"bbb", "aaa"})
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func priorState(t *testing.T, store *artifact.Store, status schemas.InvocationStatus) (*schemas.RunState, string, schemas.Artifact) {
	t.Helper()
	art, err := store.PutLines(schemas.ArtifactAssets, "producer-fp", []byte("a.example.com"))
	require.NoError(t, err)

	fp := Fingerprint("httpx", "1.6.0", []string{"input-hash"})
	rs := schemas.NewRunState("run-1", "web", time.Now())
	rs.Invocations[fp] = &schemas.Invocation{
		Tool:            "httpx",
		Fingerprint:     fp,
		Status:          status,
		OutputArtifacts: []string{art.Hash},
	}
	return rs, fp, art
}

func TestCache_NilPriorAlwaysMisses(t *testing.T) {
	store, err := artifact.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	c := New(nil, store, zaptest.NewLogger(t))
	_, ok := c.Lookup(Fingerprint("httpx", "1.6.0", []string{"x"}))
	assert.False(t, ok)
}

func TestCache_ServesSucceededPrior(t *testing.T) {
	store, err := artifact.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	rs, fp, _ := priorState(t, store, schemas.StatusSucceeded)

	c := New(rs, store, zaptest.NewLogger(t))
	cached, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, "httpx", cached.Prior.Tool)
}

func TestCache_NeverServesFailedPrior(t *testing.T) {
	store, err := artifact.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	rs, fp, _ := priorState(t, store, schemas.StatusFailed)

	c := New(rs, store, zaptest.NewLogger(t))
	_, ok := c.Lookup(fp)
	assert.False(t, ok)
}

func TestCache_NeverServesNonTerminalPrior(t *testing.T) {
	store, err := artifact.Open(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	rs, fp, _ := priorState(t, store, schemas.StatusRunning)

	c := New(rs, store, zaptest.NewLogger(t))
	_, ok := c.Lookup(fp)
	assert.False(t, ok)
}

func TestCache_MissingArtifactDegradesToMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	rs, fp, art := priorState(t, store, schemas.StatusSucceeded)

	// Simulate a prior run directory that lost an artifact file. The
	// lookup must degrade to a miss so the invocation re-executes.
	require.NoError(t, os.Remove(filepath.Join(dir, art.Path)))

	c := New(rs, store, zaptest.NewLogger(t))
	_, ok := c.Lookup(fp)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Inconsistencies())
}
