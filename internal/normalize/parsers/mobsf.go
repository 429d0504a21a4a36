// File: internal/normalize/parsers/mobsf.go
package parsers

import (
	"fmt"
	"strings"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

// mobsfSeverity maps the framework's severity labels onto the canonical
// levels. "warning" and friends flatten to medium/info.
func mobsfSeverity(raw string) schemas.Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return schemas.SeverityCritical
	case "high":
		return schemas.SeverityHigh
	case "medium", "warning":
		return schemas.SeverityMedium
	case "low":
		return schemas.SeverityLow
	}
	return schemas.SeverityInfo
}

// mobsfReport is the subset of the analysis framework's JSON report the
// parser consumes: manifest analysis, code analysis, network security
// configuration, and certificate issues.
type mobsfReport struct {
	PackageName string `json:"package_name"`
	AppName     string `json:"app_name"`
	FileName    string `json:"file_name"`

	ManifestAnalysis struct {
		ManifestFindings []struct {
			Title       string `json:"title"`
			Severity    string `json:"severity"`
			Rule        string `json:"rule"`
			Description string `json:"description"`
		} `json:"manifest_findings"`
	} `json:"manifest_analysis"`

	CodeAnalysis struct {
		Findings map[string]struct {
			Metadata struct {
				Description string `json:"description"`
				Severity    string `json:"severity"`
				CWE         string `json:"cwe"`
				OWASP       string `json:"owasp-mobile"`
			} `json:"metadata"`
			Files map[string]string `json:"files"`
		} `json:"findings"`
	} `json:"code_analysis"`

	NetworkSecurity struct {
		NetworkFindings []struct {
			Description string `json:"description"`
			Severity    string `json:"severity"`
		} `json:"network_findings"`
	} `json:"network_security"`

	CertificateAnalysis struct {
		CertificateFindings [][]string `json:"certificate_findings"`
	} `json:"certificate_analysis"`
}

type mobsfParser struct{}

// NewMobSF parses the mobile security framework's JSON report. It is the
// primary finding source for both the android and ios pipelines.
func NewMobSF() normalize.Parser { return &mobsfParser{} }

func (p *mobsfParser) Tool() string { return "mobsf" }

func (p *mobsfParser) Parse(raw []byte) ([]schemas.Finding, error) {
	var report mobsfReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid report JSON: %w", err)
	}

	asset := report.PackageName
	if asset == "" {
		asset = report.AppName
	}
	if asset == "" {
		asset = report.FileName
	}
	if asset == "" {
		asset = "mobile-app"
	}

	var findings []schemas.Finding

	for _, item := range report.ManifestAnalysis.ManifestFindings {
		title := item.Title
		if title == "" {
			title = "Manifest Issue"
		}
		findings = append(findings, schemas.Finding{
			Asset:      asset,
			Title:      title,
			Kind:       schemas.KindFinding,
			Severity:   mobsfSeverity(item.Severity),
			TemplateID: item.Rule,
			Metadata:   map[string]string{"description": item.Description},
		})
	}

	for ruleID, block := range report.CodeAnalysis.Findings {
		title := block.Metadata.Description
		if title == "" {
			title = ruleID
		}
		occurrences := len(block.Files)
		if occurrences == 0 {
			occurrences = 1
		}
		findings = append(findings, schemas.Finding{
			Asset:       asset,
			Title:       title,
			Kind:        schemas.KindFinding,
			Severity:    mobsfSeverity(block.Metadata.Severity),
			TemplateID:  ruleID,
			Occurrences: occurrences,
			Metadata: map[string]string{
				"cwe":   block.Metadata.CWE,
				"owasp": block.Metadata.OWASP,
			},
		})
	}

	for _, item := range report.NetworkSecurity.NetworkFindings {
		findings = append(findings, schemas.Finding{
			Asset:    asset,
			Title:    "Network Security Issue",
			Kind:     schemas.KindFinding,
			Severity: mobsfSeverity(item.Severity),
			Metadata: map[string]string{"description": item.Description},
		})
	}

	// Certificate findings arrive as [severity, description, title] triples.
	for _, triple := range report.CertificateAnalysis.CertificateFindings {
		if len(triple) != 3 {
			continue
		}
		findings = append(findings, schemas.Finding{
			Asset:    asset,
			Title:    triple[2],
			Kind:     schemas.KindFinding,
			Severity: mobsfSeverity(triple[0]),
			Metadata: map[string]string{"description": triple[1]},
		})
	}

	return findings, nil
}
