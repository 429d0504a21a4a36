package schemas

import (
	"encoding/json"
	"time"
)

// -- Finding Schemas --

// Severity represents the severity level of a security finding, ranging
// from critical to informational. The values are lowercase to align with
// the severity strings emitted by template-based scanners.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
)

// Rank maps a severity to an ordinal for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// FindingKind classifies what a normalized record represents. Discovery
// and enumeration tools report attack surface (assets, paths); only
// vulnerability-phase tools report actual issues.
type FindingKind string

const (
	KindAsset   FindingKind = "asset"   // A discovered host, service, or app surface.
	KindPath    FindingKind = "path"    // A discovered URL, route, or manifest component.
	KindFinding FindingKind = "finding" // A vulnerability or security issue.
)

// Finding is the canonical normalized record produced from raw tool
// output. It unifies attack-surface artifacts and vulnerability findings
// into one structure; tool-specific data goes into the metadata map.
//
// The ID is derived from a hash of the finding's identifying content, so
// normalizing the same raw output always yields the same IDs. Every
// finding carries the hash of the raw artifact it was parsed from,
// forming a provenance chain back to the exact invocation and evidence.
type Finding struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`

	Asset string      `json:"asset"` // The target host, URL, or component the record is about.
	Title string      `json:"title"`
	Tool  string      `json:"tool"`
	Kind  FindingKind `json:"kind"`

	// Web-oriented attributes, populated by HTTP probing tools.
	StatusCode   int      `json:"status_code,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	Webserver    string   `json:"webserver,omitempty"`
	CDNName      string   `json:"cdn_name,omitempty"`

	// Vulnerability attributes, populated by vulnerability-phase tools.
	Severity   Severity `json:"severity,omitempty"`
	TemplateID string   `json:"template_id,omitempty"`

	// Occurrences counts how many times this record was observed in the
	// raw output; duplicates are merged rather than repeated.
	Occurrences int `json:"occurrences"`

	ObservedAt time.Time `json:"observed_at"`

	// SourceArtifact is the hash of the raw artifact this finding was
	// parsed from. Required: no orphan findings.
	SourceArtifact string `json:"source_artifact"`

	// Evidence carries structured, machine-readable proof as produced by
	// the tool-specific parser.
	Evidence json.RawMessage `json:"evidence,omitempty"`

	// Metadata holds arbitrary tool- or domain-specific enrichment.
	Metadata map[string]string `json:"metadata,omitempty"`
}
