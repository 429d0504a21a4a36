// File: internal/normalize/parsers/ffuf.go
package parsers

import (
	"fmt"
	"strconv"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

// ffufDocument is ffuf's single-document JSON output shape.
type ffufDocument struct {
	Results []struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
		Length int    `json:"length"`
		Words  int    `json:"words"`
	} `json:"results"`
}

type ffufParser struct{}

// NewFfuf parses ffuf's JSON fuzzing results into path records.
func NewFfuf() normalize.Parser { return &ffufParser{} }

func (p *ffufParser) Tool() string { return "ffuf" }

func (p *ffufParser) Parse(raw []byte) ([]schemas.Finding, error) {
	var doc ffufDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid ffuf JSON: %w", err)
	}

	var findings []schemas.Finding
	for _, r := range doc.Results {
		if r.URL == "" {
			continue
		}
		findings = append(findings, schemas.Finding{
			Asset:      r.URL,
			Title:      "Discovered endpoint (ffuf)",
			Kind:       schemas.KindPath,
			StatusCode: r.Status,
			Metadata: map[string]string{
				"length": strconv.Itoa(r.Length),
				"words":  strconv.Itoa(r.Words),
			},
		})
	}
	return findings, nil
}
