package schemas

import (
	"sort"
	"time"
)

// -- Run State Schemas --

// RunStatus is the overall status of one orchestration run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	// RunCompleted means every invocation succeeded or was served from
	// cache.
	RunCompleted RunStatus = "completed"
	// RunCompletedWithGaps means the run reached its final phase but one
	// or more non-mandatory invocations failed; findings from unaffected
	// branches are still valid.
	RunCompletedWithGaps RunStatus = "completed_with_gaps"
	RunFailed            RunStatus = "failed"
	RunCancelled         RunStatus = "cancelled"
)

// RunState is the process-wide record for one orchestration run. It is an
// explicit value threaded through every component call, never a global.
// It is persisted after every invocation transition and read back on
// restart to resume from the last incomplete phase.
type RunState struct {
	RunID  string `json:"run_id"`
	Domain string `json:"domain"` // web, android, or ios.

	Status       RunStatus `json:"status"`
	CurrentPhase string    `json:"current_phase,omitempty"`
	PhaseHistory []string  `json:"phase_history,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Invocations holds every invocation record of the run, keyed by
	// fingerprint. Records with a terminal status are read-only history.
	Invocations map[string]*Invocation `json:"invocations"`

	// Errors maps tool names to the error that failed them, for the
	// audit trail and the report layer.
	Errors map[string]string `json:"errors,omitempty"`
}

// NewRunState returns an initialized RunState for a fresh run.
func NewRunState(runID, domain string, startedAt time.Time) *RunState {
	return &RunState{
		RunID:       runID,
		Domain:      domain,
		Status:      RunRunning,
		StartedAt:   startedAt,
		Invocations: make(map[string]*Invocation),
		Errors:      make(map[string]string),
	}
}

// OrderedInvocations returns the run's invocations sorted lexicographically
// by (tool name, first input hash, fingerprint). Execution order never
// affects this ordering, so logs and reports are deterministic.
func (rs *RunState) OrderedInvocations() []*Invocation {
	out := make([]*Invocation, 0, len(rs.Invocations))
	for _, inv := range rs.Invocations {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		hi, hj := "", ""
		if len(out[i].InputHashes) > 0 {
			hi = out[i].InputHashes[0]
		}
		if len(out[j].InputHashes) > 0 {
			hj = out[j].InputHashes[0]
		}
		if hi != hj {
			return hi < hj
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// CountByStatus tallies invocation statuses for summaries.
func (rs *RunState) CountByStatus() map[InvocationStatus]int {
	counts := make(map[InvocationStatus]int)
	for _, inv := range rs.Invocations {
		counts[inv.Status]++
	}
	return counts
}
