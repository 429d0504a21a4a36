// File: internal/normalize/parsers/httpx.go
package parsers

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

// httpxRecord is the subset of httpx's JSONL output we consume.
type httpxRecord struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	StatusCode int      `json:"status_code"`
	Tech       []string `json:"tech"`
	Webserver  string   `json:"webserver"`
	CDN        bool     `json:"cdn"`
	CDNName    string   `json:"cdn_name"`
}

// httpxParser normalizes httpx JSONL. The same binary plays two roles:
// asset validation in discovery and path enrichment in enumeration; the
// role decides the finding kind.
type httpxParser struct {
	tool string
	kind schemas.FindingKind
}

// NewHTTPX builds an httpx parser for the given registered tool name and
// artifact role.
func NewHTTPX(tool string, kind schemas.FindingKind) normalize.Parser {
	return &httpxParser{tool: tool, kind: kind}
}

func (p *httpxParser) Tool() string { return p.tool }

func (p *httpxParser) Parse(raw []byte) ([]schemas.Finding, error) {
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

		var rec httpxRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %w", lineNo, err)
		}
		if rec.URL == "" {
			continue
		}

		title := rec.Title
		if title == "" {
			title = "Live HTTP Service"
		}

		findings = append(findings, schemas.Finding{
			Asset:        rec.URL,
			Title:        title,
			Kind:         p.kind,
			StatusCode:   rec.StatusCode,
			Technologies: rec.Tech,
			Webserver:    rec.Webserver,
			CDNName:      rec.CDNName,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning httpx output: %w", err)
	}
	return findings, nil
}
