// File: internal/artifact/store.go
// Description: Content-addressed, append-only store of typed artifacts.
// Artifacts are keyed by a hash of their canonical content plus the
// fingerprint of the producing invocation; a key is written at most once.

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

// ErrNotFound is returned when a hash has no artifact behind it.
var ErrNotFound = errors.New("artifact not found")

const indexFile = "artifacts.json"

// Store owns the artifact bytes and the hash index for one run. All
// writes are append-only and keyed by content hash, so concurrent writers
// never contend on overlapping keys; only the index map itself is locked.
type Store struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.RWMutex
	index map[string]schemas.Artifact
}

// Open creates or reopens the artifact store rooted at the run directory.
// An existing index is loaded so a resumed run sees every artifact the
// interrupted run persisted.
func Open(baseDir string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		baseDir: baseDir,
		logger:  logger.Named("artifacts"),
		index:   make(map[string]schemas.Artifact),
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create artifact dir: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(baseDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("cannot read artifact index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return nil, fmt.Errorf("corrupt artifact index: %w", err)
	}
	s.logger.Debug("Loaded artifact index", zap.Int("artifacts", len(s.index)))
	return s, nil
}

// CanonicalLines normalizes line-oriented content: trim, drop empties,
// sort, dedupe. Two tools discovering the same set in different orders
// produce the same canonical bytes.
func CanonicalLines(content []byte) []byte {
	seen := make(map[string]struct{})
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n"))
}

// HashContent computes the content address for the given canonical bytes
// and producing fingerprint.
func HashContent(canonical []byte, producer string) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte("\x00"))
	h.Write([]byte(producer))
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores canonical content as a new artifact and returns its record.
// If the identical artifact already exists the stored record is returned
// unchanged; an artifact is never overwritten.
func (s *Store) Put(typ schemas.ArtifactType, producer string, canonical []byte) (schemas.Artifact, error) {
	if !typ.Valid() {
		return schemas.Artifact{}, fmt.Errorf("invalid artifact type %q", typ)
	}

	hash := HashContent(canonical, producer)

	s.mu.RLock()
	existing, ok := s.index[hash]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	relPath := filepath.Join("artifacts", string(typ), hash[:16])
	absPath := filepath.Join(s.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return schemas.Artifact{}, fmt.Errorf("artifact store i/o: %w", err)
	}
	if err := writeAtomic(absPath, canonical); err != nil {
		return schemas.Artifact{}, fmt.Errorf("artifact store i/o: %w", err)
	}

	art := schemas.Artifact{
		Hash:      hash,
		Type:      typ,
		Producer:  producer,
		Path:      relPath,
		Size:      int64(len(canonical)),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	// Double-check under the write lock; first writer wins and both
	// writers hold identical bytes anyway.
	if prior, ok := s.index[hash]; ok {
		s.mu.Unlock()
		return prior, nil
	}
	s.index[hash] = art
	err := s.persistIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return schemas.Artifact{}, err
	}

	s.logger.Debug("Stored artifact",
		zap.String("type", string(typ)),
		zap.String("hash", hash[:16]),
		zap.Int("bytes", len(canonical)))
	return art, nil
}

// PutLines canonicalizes line-oriented content and stores it.
func (s *Store) PutLines(typ schemas.ArtifactType, producer string, content []byte) (schemas.Artifact, error) {
	return s.Put(typ, producer, CanonicalLines(content))
}

// Get returns the artifact record for a hash.
func (s *Store) Get(hash string) (schemas.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.index[hash]
	if !ok {
		return schemas.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return art, nil
}

// Read returns the stored bytes for a hash.
func (s *Store) Read(hash string) ([]byte, error) {
	art, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, art.Path))
	if err != nil {
		// Index entry without backing bytes: surfaced to the caller so
		// the resume layer can treat the referencing invocation as a
		// cache miss.
		return nil, fmt.Errorf("%w: %s (missing backing file)", ErrNotFound, hash)
	}
	return data, nil
}

// HashesByType returns the sorted hashes of every artifact of a type.
// Sorted output keeps invocation planning deterministic regardless of
// store insertion order.
func (s *Store) HashesByType(typ schemas.ArtifactType) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hashes []string
	for h, art := range s.index {
		if art.Type == typ {
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)
	return hashes
}

// MergedByType concatenates the canonical content of every artifact of a
// type and re-canonicalizes it. This forms the combined input worklist a
// consuming tool sees.
func (s *Store) MergedByType(typ schemas.ArtifactType) ([]byte, []string, error) {
	hashes := s.HashesByType(typ)
	var combined []byte
	for _, h := range hashes {
		data, err := s.Read(h)
		if err != nil {
			return nil, nil, err
		}
		combined = append(combined, data...)
		combined = append(combined, '\n')
	}
	return CanonicalLines(combined), hashes, nil
}

// Len reports the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func (s *Store) persistIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal artifact index: %w", err)
	}
	if err := writeAtomic(filepath.Join(s.baseDir, indexFile), data); err != nil {
		return fmt.Errorf("artifact store i/o: %w", err)
	}
	return nil
}

// writeAtomic writes via a temp file and rename so a crash never leaves a
// truncated artifact or index behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
