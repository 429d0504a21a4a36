package schemas

import "time"

// -- Invocation Schemas --

// InvocationStatus tracks one execution attempt through its lifecycle.
// Terminal statuses (Succeeded, Failed, SkippedCached, Cancelled) are
// final: the record is never mutated once one is reached.
type InvocationStatus string

const (
	StatusPending       InvocationStatus = "pending"
	StatusRunning       InvocationStatus = "running"
	StatusSucceeded     InvocationStatus = "succeeded"
	StatusFailed        InvocationStatus = "failed"
	StatusSkippedCached InvocationStatus = "skipped_cached"
	StatusCancelled     InvocationStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s InvocationStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkippedCached, StatusCancelled:
		return true
	}
	return false
}

// FailureKind sub-classifies a failed invocation for reporting.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureTimeout       FailureKind = "timeout"
	FailureNonZeroExit   FailureKind = "non_zero_exit"
	FailureResource      FailureKind = "resource_unavailable"
	FailureNormalization FailureKind = "normalization"
	FailureCancelled     FailureKind = "cancelled"
)

// Invocation is one execution attempt of a tool against a specific input
// artifact set. It is created by the scheduler, driven to a terminal
// status by the scheduler and the sandbox adapter, and then becomes an
// immutable historical record.
type Invocation struct {
	Tool        string `json:"tool"`
	ToolVersion string `json:"tool_version,omitempty"`
	Phase       string `json:"phase"`

	// InputHashes are the content hashes of the consumed artifacts,
	// sorted lexicographically.
	InputHashes []string `json:"input_hashes"`

	// Fingerprint is the deterministic hash of tool identity, tool
	// version, and the canonicalized input hashes. It is the cache and
	// resume key for this execution intent.
	Fingerprint string `json:"fingerprint"`

	Status      InvocationStatus `json:"status"`
	FailureKind FailureKind      `json:"failure_kind,omitempty"`
	Error       string           `json:"error,omitempty"`

	// RawOutput is the path, relative to the run directory, of the
	// captured tool output. Preserved on failure as well.
	RawOutput string `json:"raw_output,omitempty"`

	// OutputArtifacts are the hashes of artifacts this invocation
	// produced (raw plus normalized).
	OutputArtifacts []string `json:"output_artifacts,omitempty"`

	ExitCode int `json:"exit_code"`

	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
