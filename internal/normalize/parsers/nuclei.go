// File: internal/normalize/parsers/nuclei.go
package parsers

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

// nucleiRecord is the subset of nuclei's JSONL match output we consume.
type nucleiRecord struct {
	TemplateID string `json:"template-id"`
	Host       string `json:"host"`
	MatchedAt  string `json:"matched-at"`
	Info       struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
	} `json:"info"`
}

type nucleiParser struct{}

// NewNuclei parses template-scanner matches. This is the authoritative
// vulnerability signal of the web pipeline; one JSON object per match,
// de-duplicated downstream by (asset, template) with occurrence counting.
func NewNuclei() normalize.Parser { return &nucleiParser{} }

func (p *nucleiParser) Tool() string { return "nuclei" }

func (p *nucleiParser) Parse(raw []byte) ([]schemas.Finding, error) {
	var findings []schemas.Finding

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec nucleiRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", lineNo, err)
		}

		asset := rec.MatchedAt
		if asset == "" {
			asset = rec.Host
		}
		if asset == "" || rec.TemplateID == "" {
			continue
		}

		title := rec.Info.Name
		if title == "" {
			title = rec.TemplateID
		}

		findings = append(findings, schemas.Finding{
			Asset:      asset,
			Title:      title,
			Kind:       schemas.KindFinding,
			Severity:   parseSeverity(rec.Info.Severity),
			TemplateID: rec.TemplateID,
			Evidence:   append([]byte(nil), line...),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning nuclei output: %w", err)
	}
	return findings, nil
}

func parseSeverity(s string) schemas.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return schemas.SeverityCritical
	case "high":
		return schemas.SeverityHigh
	case "medium":
		return schemas.SeverityMedium
	case "low":
		return schemas.SeverityLow
	case "info":
		return schemas.SeverityInfo
	}
	return schemas.SeverityUnknown
}
