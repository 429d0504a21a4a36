// File: internal/normalize/normalize.go
// Description: Maps raw tool output into the common findings schema.
// Tool-specific parsing is delegated to pluggable per-tool parsers; this
// package owns only schema assembly and hash-based id assignment.

package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

// Parser is the single capability a per-tool adapter implements: turn raw
// output bytes into finding-shaped records. Parsers must be pure; the
// same raw bytes always yield the same records.
type Parser interface {
	Tool() string
	Parse(raw []byte) ([]schemas.Finding, error)
}

// Error is a per-invocation normalization failure. It never fails the
// run; the scheduler records it and proceeds.
type Error struct {
	Tool string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalization failed for %s: %v", e.Tool, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Meta carries the provenance fields the normalizer stamps onto every
// finding. ObservedAt comes from the invocation record, not the clock,
// so normalizing the same invocation twice yields identical content.
type Meta struct {
	RunID          string
	SourceArtifact string
	ObservedAt     time.Time
}

// Normalizer dispatches raw output to the parser registered for the tool
// and assembles the canonical finding set.
type Normalizer struct {
	logger  *zap.Logger
	parsers map[string]Parser
}

// New creates a normalizer over the given parsers. Registering two
// parsers for the same tool name is a programming error.
func New(logger *zap.Logger, parsers ...Parser) (*Normalizer, error) {
	n := &Normalizer{
		logger:  logger.Named("normalize"),
		parsers: make(map[string]Parser, len(parsers)),
	}
	for _, p := range parsers {
		if _, dup := n.parsers[p.Tool()]; dup {
			return nil, fmt.Errorf("duplicate parser registered for tool %q", p.Tool())
		}
		n.parsers[p.Tool()] = p
	}
	return n, nil
}

// Normalize parses raw output for the named tool and returns the
// deduplicated, deterministically ordered finding set. Finding ids are
// derived from content hashes, so the mapping is idempotent.
func (n *Normalizer) Normalize(tool string, raw []byte, meta Meta) ([]schemas.Finding, error) {
	parser, ok := n.parsers[tool]
	if !ok {
		return nil, &Error{Tool: tool, Err: fmt.Errorf("no parser registered")}
	}

	records, err := parser.Parse(raw)
	if err != nil {
		return nil, &Error{Tool: tool, Err: err}
	}

	// Merge duplicates by identity and stamp provenance.
	merged := make(map[string]*schemas.Finding)
	for i := range records {
		f := records[i]
		f.Tool = tool
		f.RunID = meta.RunID
		f.SourceArtifact = meta.SourceArtifact
		f.ObservedAt = meta.ObservedAt
		if f.Occurrences <= 0 {
			f.Occurrences = 1
		}
		f.ID = deriveID(&f)

		if prior, ok := merged[f.ID]; ok {
			prior.Occurrences += f.Occurrences
			// Keep the worst severity observed for the same identity.
			if f.Severity.Rank() > prior.Severity.Rank() {
				prior.Severity = f.Severity
			}
			continue
		}
		merged[f.ID] = &f
	}

	out := make([]schemas.Finding, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	n.logger.Debug("Normalized tool output",
		zap.String("tool", tool),
		zap.Int("records", len(records)),
		zap.Int("findings", len(out)))
	return out, nil
}

// HasParser reports whether a parser is registered for the tool.
func (n *Normalizer) HasParser(tool string) bool {
	_, ok := n.parsers[tool]
	return ok
}

// deriveID hashes the finding's identifying content. Occurrences and
// provenance are deliberately excluded: the same observation parsed from
// the same raw artifact must always get the same id.
func deriveID(f *schemas.Finding) string {
	h := sha256.New()
	for _, part := range []string{
		f.Tool,
		string(f.Kind),
		strings.ToLower(f.Asset),
		f.Title,
		f.TemplateID,
		f.SourceArtifact,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
