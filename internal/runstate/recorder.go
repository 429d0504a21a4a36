// File: internal/runstate/recorder.go
// Description: Durable persistence of run metadata and per-invocation
// status. The per-run directory is the audit trail: meta.json for run
// metadata, state.json for the resumable RunState, raw/ and normalized/
// for evidence.

package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

// ErrNotFound is returned by Load when no persisted state exists.
var ErrNotFound = errors.New("run state not found")

const (
	stateFile = "state.json"
	metaFile  = "meta.json"
)

// Meta is the run metadata written to meta.json. It captures timing,
// execution context, tool versions, and errors for traceability.
type Meta struct {
	RunID        string            `json:"run_id"`
	Domain       string            `json:"domain"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at,omitempty"`
	TargetsFile  string            `json:"targets_file,omitempty"`
	PhaseHistory []string          `json:"phase_history,omitempty"`
	Version      string            `json:"deadbolt_version"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// Recorder owns RunState persistence for one run directory. Persist is
// idempotent and safe for concurrent callers; writes are serialized and
// atomic so a crash never leaves a torn state file.
type Recorder struct {
	runDir string
	logger *zap.Logger

	mu sync.Mutex
}

// Open prepares a recorder over an existing run directory.
func Open(runDir string, logger *zap.Logger) (*Recorder, error) {
	for _, sub := range []string{"raw", "normalized"} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("cannot prepare run directory: %w", err)
		}
	}
	return &Recorder{runDir: runDir, logger: logger.Named("runstate")}, nil
}

// Dir returns the absolute run directory.
func (r *Recorder) Dir() string { return r.runDir }

// Persist writes the full RunState snapshot. Called after every
// invocation status transition; a persistence failure is fatal to the
// run because the audit guarantee would otherwise be broken.
func (r *Recorder) Persist(rs *schemas.RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal run state: %w", err)
	}
	if err := writeAtomic(filepath.Join(r.runDir, stateFile), data); err != nil {
		return fmt.Errorf("cannot persist run state: %w", err)
	}
	return nil
}

// Load reads the persisted RunState back, or ErrNotFound for a fresh
// directory.
func (r *Recorder) Load() (*schemas.RunState, error) {
	data, err := os.ReadFile(filepath.Join(r.runDir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cannot read run state: %w", err)
	}
	var rs schemas.RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("corrupt run state: %w", err)
	}
	if rs.Invocations == nil {
		rs.Invocations = make(map[string]*schemas.Invocation)
	}
	if rs.Errors == nil {
		rs.Errors = make(map[string]string)
	}
	return &rs, nil
}

// WriteMeta persists run metadata.
func (r *Recorder) WriteMeta(meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal run meta: %w", err)
	}
	if err := writeAtomic(filepath.Join(r.runDir, metaFile), data); err != nil {
		return fmt.Errorf("cannot persist run meta: %w", err)
	}
	return nil
}

// WriteNormalized snapshots one tool's normalized findings under
// normalized/<tool>.json.
func (r *Recorder) WriteNormalized(tool string, findings []schemas.Finding) error {
	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal findings for %s: %w", tool, err)
	}
	path := filepath.Join(r.runDir, "normalized", tool+".json")
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("cannot persist normalized findings: %w", err)
	}
	return nil
}

// WriteFindings persists the final aggregated finding set.
func (r *Recorder) WriteFindings(findings []schemas.Finding) error {
	return r.WriteNormalized("findings", findings)
}

// RawDir returns the raw-evidence directory for a tool, creating it.
func (r *Recorder) RawDir(tool string) (string, error) {
	dir := filepath.Join(r.runDir, "raw", tool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create raw dir: %w", err)
	}
	return dir, nil
}

// ResolveRunDir resolves the run directory for a fresh or resumed run.
// Fresh runs get <base>/run_YYYYMMDD_HHMMSS; resume requires an existing
// run directory containing a state snapshot.
func ResolveRunDir(baseDir, resumeFrom string) (string, bool, error) {
	if resumeFrom == "" {
		dir := filepath.Join(baseDir, time.Now().Format("run_20060102_150405"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("cannot create run directory: %w", err)
		}
		return dir, false, nil
	}

	dir, err := filepath.Abs(resumeFrom)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false, fmt.Errorf("resume path must be an existing run directory: %s", resumeFrom)
	}
	if !strings.HasPrefix(filepath.Base(dir), "run_") {
		return "", false, fmt.Errorf("resume path does not look like a run directory: %s", resumeFrom)
	}
	if _, err := os.Stat(filepath.Join(dir, stateFile)); err != nil {
		return "", false, fmt.Errorf("invalid run directory (missing %s): %s", stateFile, resumeFrom)
	}
	return dir, true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
