// File: internal/sandbox/version.go
package sandbox

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// versionPattern extracts a semantic-looking version token from tool
// banner output. Tools print versions in wildly different shapes; the
// first vX.Y or X.Y.Z token wins.
var versionPattern = regexp.MustCompile(`v?\d+\.\d+(\.\d+)?`)

const versionProbeTimeout = 30 * time.Second

// VersionCache resolves and memoizes installed tool versions per image.
// Versions feed invocation fingerprints, so an upgraded tool naturally
// invalidates cached results for its invocations.
type VersionCache struct {
	adapter *Adapter
	logger  *zap.Logger

	mu       sync.Mutex
	resolved map[string]string
}

// NewVersionCache wraps the adapter with a per-image version cache.
func NewVersionCache(adapter *Adapter, logger *zap.Logger) *VersionCache {
	return &VersionCache{
		adapter:  adapter,
		logger:   logger.Named("versions"),
		resolved: make(map[string]string),
	}
}

// Resolve returns the installed version for an image, probing the
// container at most once per process. Probe failures degrade to
// "unknown" rather than failing the run; the fingerprint then keys on
// the image name alone.
func (vc *VersionCache) Resolve(ctx context.Context, image string, versionArgs []string) string {
	vc.mu.Lock()
	if v, ok := vc.resolved[image]; ok {
		vc.mu.Unlock()
		return v
	}
	vc.mu.Unlock()

	version := vc.probe(ctx, image, versionArgs)

	vc.mu.Lock()
	vc.resolved[image] = version
	vc.mu.Unlock()
	return version
}

func (vc *VersionCache) probe(ctx context.Context, image string, versionArgs []string) string {
	if len(versionArgs) == 0 {
		return "unknown"
	}

	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	args := []string{"run", "--rm", vc.adapter.imageRef(image)}
	args = append(args, versionArgs...)

	cmd := execCommandContext(probeCtx, vc.adapter.cfg.Runtime, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		vc.logger.Debug("Version probe failed", zap.String("image", image), zap.Error(err))
		return "unknown"
	}

	if m := versionPattern.FindString(string(out)); m != "" {
		return m
	}
	if line := firstLine(out); line != "" {
		return line
	}
	return "unknown"
}

// Snapshot returns a copy of every resolved version, for run metadata.
func (vc *VersionCache) Snapshot() map[string]string {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make(map[string]string, len(vc.resolved))
	for k, v := range vc.resolved {
		out[k] = v
	}
	return out
}
