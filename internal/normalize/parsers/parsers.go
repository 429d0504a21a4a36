// File: internal/normalize/parsers/parsers.go
// Description: Per-tool output parsers. Each parser maps one tool's raw
// output shape into finding-shaped records; the normalizer owns id
// assignment and provenance.

package parsers

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

// json uses jsoniter for the JSONL-heavy parsers; drop-in stdlib
// compatible.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// lineParser handles the common case of tools that emit one item per
// line: subfinder, dnsx, the crawlers, and the URL history tools.
type lineParser struct {
	tool  string
	kind  schemas.FindingKind
	title string
}

func (p *lineParser) Tool() string { return p.tool }

func (p *lineParser) Parse(raw []byte) ([]schemas.Finding, error) {
	occurrences := make(map[string]int)
	var order []string
	for _, line := range strings.Split(string(raw), "\n") {
		item := strings.TrimSpace(line)
		if item == "" {
			continue
		}
		if occurrences[item] == 0 {
			order = append(order, item)
		}
		occurrences[item]++
	}

	findings := make([]schemas.Finding, 0, len(order))
	for _, item := range order {
		findings = append(findings, schemas.Finding{
			Asset:       item,
			Title:       p.title,
			Kind:        p.kind,
			Occurrences: occurrences[item],
		})
	}
	return findings, nil
}

// NewSubfinder parses passive subdomain enumeration output.
func NewSubfinder() normalize.Parser {
	return &lineParser{tool: "subfinder", kind: schemas.KindAsset, title: "Discovered subdomain"}
}

// NewDNSX parses resolved-host output.
func NewDNSX() normalize.Parser {
	return &lineParser{tool: "dnsx", kind: schemas.KindAsset, title: "Resolved host"}
}

// NewGau parses URL history output.
func NewGau() normalize.Parser {
	return &lineParser{tool: "gau", kind: schemas.KindPath, title: "Historical URL (gau)"}
}

// NewWaybackurls parses URL history output.
func NewWaybackurls() normalize.Parser {
	return &lineParser{tool: "waybackurls", kind: schemas.KindPath, title: "Historical URL (waybackurls)"}
}

// NewKatana parses crawler output.
func NewKatana() normalize.Parser {
	return &lineParser{tool: "katana", kind: schemas.KindPath, title: "Crawled endpoint (katana)"}
}

// NewHakrawler parses crawler output.
func NewHakrawler() normalize.Parser {
	return &lineParser{tool: "hakrawler", kind: schemas.KindPath, title: "Crawled endpoint (hakrawler)"}
}

// NewParamspider parses parameter discovery output.
func NewParamspider() normalize.Parser {
	return &lineParser{tool: "paramspider", kind: schemas.KindPath, title: "Parameterized URL"}
}

// graphqlCopParser handles graphql-cop's "endpoint :: detail" lines.
// Lines without the separator are runner chatter and are skipped.
type graphqlCopParser struct{}

// NewGraphQLCop parses GraphQL endpoint audit output.
func NewGraphQLCop() normalize.Parser { return &graphqlCopParser{} }

func (p *graphqlCopParser) Tool() string { return "graphql-cop" }

func (p *graphqlCopParser) Parse(raw []byte) ([]schemas.Finding, error) {
	type exposure struct {
		endpoint string
		detail   string
	}
	occurrences := make(map[exposure]int)
	var order []exposure
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.Contains(line, "::") {
			continue
		}
		parts := strings.SplitN(line, "::", 2)
		key := exposure{
			endpoint: strings.TrimSpace(parts[0]),
			detail:   strings.TrimSpace(parts[1]),
		}
		if key.endpoint == "" {
			continue
		}
		if occurrences[key] == 0 {
			order = append(order, key)
		}
		occurrences[key]++
	}

	findings := make([]schemas.Finding, 0, len(order))
	for _, key := range order {
		findings = append(findings, schemas.Finding{
			Asset:        key.endpoint,
			Title:        "GraphQL exposure: " + key.detail,
			Kind:         schemas.KindPath,
			Technologies: []string{"graphql"},
			Occurrences:  occurrences[key],
		})
	}
	return findings, nil
}

// Web returns the full parser set for the web domain.
func Web() []normalize.Parser {
	return []normalize.Parser{
		NewSubfinder(),
		NewDNSX(),
		NewHTTPX("httpx", schemas.KindAsset),
		NewGau(),
		NewWaybackurls(),
		NewKatana(),
		NewHakrawler(),
		NewFfuf(),
		NewParamspider(),
		NewGraphQLCop(),
		NewHTTPX("httpx_paths", schemas.KindPath),
		NewNuclei(),
	}
}

// Android returns the parser set for APK static analysis.
func Android() []normalize.Parser {
	return []normalize.Parser{
		NewApktool(),
		NewJadx(),
		NewAndroguard(),
		NewMobSF(),
	}
}

// IOS returns the parser set for IPA analysis.
func IOS() []normalize.Parser {
	return []normalize.Parser{
		NewMobSF(),
	}
}

// ForDomain returns the parser set for a pipeline domain, nil when the
// domain is unknown.
func ForDomain(domain string) []normalize.Parser {
	switch domain {
	case "web":
		return Web()
	case "android":
		return Android()
	case "ios":
		return IOS()
	}
	return nil
}
