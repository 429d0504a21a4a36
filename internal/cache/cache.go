// File: internal/cache/cache.go
// Description: Content-determined resume cache. A prior succeeded
// invocation with the same fingerprint is reused instead of re-running
// the tool; failures are never served from cache.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/artifact"
)

// ErrResumeInconsistency marks a persisted fingerprint whose artifacts no
// longer exist. Recovery is to treat the invocation as a cache miss.
var ErrResumeInconsistency = errors.New("resume inconsistency: cached artifact missing")

// Fingerprint derives the deterministic execution-intent hash from tool
// identity, tool version, and the content hashes of all inputs. Input
// order never matters: the hashes are sorted before combining. Identical
// inputs therefore always resolve to the identical fingerprint, across
// runs and across hosts.
func Fingerprint(tool, version string, inputHashes []string) string {
	sorted := make([]string, len(inputHashes))
	copy(sorted, inputHashes)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(version))
	for _, in := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(in))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedResult is a reusable prior invocation. The artifact references
// are reused by identity; no bytes are copied.
type CachedResult struct {
	Prior *schemas.Invocation
}

// Cache answers, per invocation, whether a prior result can be reused.
// Hits are content-determined, never time-based.
type Cache struct {
	store  *artifact.Store
	logger *zap.Logger
	prior  map[string]*schemas.Invocation

	inconsistencies int
}

// New builds a cache from the prior run state of the same lineage. A nil
// prior state yields an always-miss cache (fresh run).
func New(prior *schemas.RunState, store *artifact.Store, logger *zap.Logger) *Cache {
	c := &Cache{
		store:  store,
		logger: logger.Named("cache"),
		prior:  make(map[string]*schemas.Invocation),
	}
	if prior == nil {
		return c
	}
	for fp, inv := range prior.Invocations {
		// Only successful results are reusable. A failed prior result is
		// always retried; skipped-cached records point at the succeeded
		// artifacts they reused and count as successful.
		if inv.Status == schemas.StatusSucceeded || inv.Status == schemas.StatusSkippedCached {
			c.prior[fp] = inv
		}
	}
	return c
}

// Lookup returns a reusable prior result for the fingerprint, or a miss.
// A hit whose artifacts have gone missing is a resume inconsistency and
// degrades to a miss so the invocation re-runs.
func (c *Cache) Lookup(fingerprint string) (*CachedResult, bool) {
	inv, ok := c.prior[fingerprint]
	if !ok {
		return nil, false
	}

	for _, hash := range inv.OutputArtifacts {
		if _, err := c.store.Read(hash); err != nil {
			c.inconsistencies++
			c.logger.Warn("Cached result references missing artifact, re-running",
				zap.String("tool", inv.Tool),
				zap.String("fingerprint", shortFP(fingerprint)),
				zap.String("artifact", shortFP(hash)),
				zap.Error(ErrResumeInconsistency))
			return nil, false
		}
	}

	return &CachedResult{Prior: inv}, true
}

// Inconsistencies reports how many hits degraded to misses because of
// missing artifacts.
func (c *Cache) Inconsistencies() int { return c.inconsistencies }

func shortFP(s string) string {
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
