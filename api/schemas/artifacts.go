package schemas

import "time"

// -- Artifact Schemas --

// ArtifactType classifies the units of data that flow between pipeline
// phases. The values are lowercase to match their on-disk directory names.
type ArtifactType string

// Constants defining the artifact types a tool may consume or produce.
const (
	ArtifactTargets  ArtifactType = "targets"  // Seed identifiers supplied by the operator.
	ArtifactAssets   ArtifactType = "assets"   // Resolved hosts, subdomains, or app surfaces.
	ArtifactPaths    ArtifactType = "paths"    // Endpoints, URLs, or manifest components.
	ArtifactFindings ArtifactType = "findings" // Normalized security observations.

	// ArtifactRaw is preserved tool evidence. Raw artifacts never feed
	// eligibility computation; they exist for provenance and replay.
	ArtifactRaw ArtifactType = "raw"
)

// ConsumeRank orders artifact types producer-before-consumer. Within a
// phase, tools consuming a lower-ranked type are dispatched in an earlier
// wave so that same-phase enrichment sees its inputs.
func (t ArtifactType) ConsumeRank() int {
	switch t {
	case ArtifactTargets:
		return 0
	case ArtifactAssets:
		return 1
	case ArtifactPaths:
		return 2
	case ArtifactFindings:
		return 3
	}
	return 4
}

// Valid reports whether t is one of the declared artifact types.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactTargets, ArtifactAssets, ArtifactPaths, ArtifactFindings, ArtifactRaw:
		return true
	}
	return false
}

// Artifact is an immutable, content-addressed unit of pipeline data. The
// hash covers the canonical content plus the fingerprint of the producing
// invocation, so two tools emitting identical bytes still yield distinct
// artifacts. Artifacts are never overwritten, only superseded by a new
// artifact under a different hash.
type Artifact struct {
	Hash string       `json:"hash"` // sha256 over canonical content + producer fingerprint.
	Type ArtifactType `json:"type"`

	// Producer is the fingerprint of the invocation that generated this
	// artifact. Empty for operator-seeded artifacts.
	Producer string `json:"producer,omitempty"`

	// Path is the artifact's location relative to the run directory.
	Path string `json:"path"`

	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
