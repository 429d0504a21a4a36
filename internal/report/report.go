// Package report builds the end-of-run summary document. The summary is
// the stable surface intended for external consumers; everything else
// under the run directory is audit material.
package report

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the aggregated result of a single run.
type Report struct {
	RunID        string            `json:"run_id"`
	Domain       string            `json:"domain"`
	Status       schemas.RunStatus `json:"status"`
	PhaseHistory []string          `json:"phase_history"`
	StartedAt    string            `json:"started_at"`
	FinishedAt   string            `json:"finished_at,omitempty"`

	Invocations InvocationSummary `json:"invocations"`
	Findings    FindingSummary    `json:"findings"`
	Errors      map[string]string `json:"errors,omitempty"`

	Items []schemas.Finding `json:"items"`
}

// InvocationSummary breaks invocation outcomes down by status and tool.
type InvocationSummary struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByTool   map[string]int `json:"by_tool"`
}

// FindingSummary counts findings by severity and by producing tool.
type FindingSummary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
	ByTool     map[string]int `json:"by_tool"`
}

// Build compiles the final report from the recorded run state and the
// aggregated findings. Findings are sorted by severity rank, then ID, so
// the most urgent items lead the document.
func Build(state *schemas.RunState, findings []schemas.Finding) *Report {
	inv := InvocationSummary{
		ByStatus: make(map[string]int),
		ByTool:   make(map[string]int),
	}
	for _, rec := range state.Invocations {
		inv.Total++
		inv.ByStatus[string(rec.Status)]++
		inv.ByTool[rec.Tool]++
	}

	fs := FindingSummary{
		Total:      len(findings),
		BySeverity: make(map[string]int),
		ByTool:     make(map[string]int),
	}
	items := make([]schemas.Finding, len(findings))
	copy(items, findings)
	for _, f := range items {
		fs.BySeverity[string(f.Severity)]++
		fs.ByTool[f.Tool]++
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Severity.Rank() != items[j].Severity.Rank() {
			return items[i].Severity.Rank() > items[j].Severity.Rank()
		}
		return items[i].ID < items[j].ID
	})

	errs := make(map[string]string, len(state.Errors))
	for tool, msg := range state.Errors {
		errs[tool] = msg
	}

	r := &Report{
		RunID:        state.RunID,
		Domain:       state.Domain,
		Status:       state.Status,
		PhaseHistory: append([]string(nil), state.PhaseHistory...),
		StartedAt:    state.StartedAt.Format(time.RFC3339),
		Invocations:  inv,
		Findings:     fs,
		Errors:       errs,
		Items:        items,
	}
	if !state.FinishedAt.IsZero() {
		r.FinishedAt = state.FinishedAt.Format(time.RFC3339)
	}
	return r
}

// ToJSON serializes the report with indentation for human inspection.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Write persists the report as report.json inside the run directory.
func Write(runDir string, r *Report, logger *zap.Logger) error {
	data, err := r.ToJSON()
	if err != nil {
		return err
	}
	path := filepath.Join(runDir, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logger.Info("Report written",
		zap.String("path", path),
		zap.Int("findings", r.Findings.Total),
		zap.Int("invocations", r.Invocations.Total))
	return nil
}
