// File: internal/registry/registry.go
// Description: Static catalog of tool descriptors per domain. Descriptors
// represent intent, not binaries: the same binary may appear twice with
// different roles (httpx validates assets in discovery and enriches paths
// in enumeration). Loaded once at process start and immutable afterwards.

package registry

import (
	"fmt"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

// ToolDescriptor declares everything the orchestrator knows about one
// tool: what it consumes and produces, and how to invoke it inside the
// sandbox. The orchestrator never interprets tool-specific flags beyond
// this template.
type ToolDescriptor struct {
	Name  string
	Image string
	Phase string

	Consumes schemas.ArtifactType
	Produces schemas.ArtifactType

	// Args is the literal argument template passed to the container.
	// Inputs are mounted read-only at InputMount, the scratch output
	// directory at /output.
	Args       []string
	InputMount string
	OutputName string
	Entrypoint string

	// VersionArgs probes the installed tool version; empty disables the
	// probe and the fingerprint falls back to the image name.
	VersionArgs []string

	// RawSubdir overrides the raw output directory name when one binary
	// plays several roles.
	RawSubdir string

	// InputIsFileRef marks tools whose input artifact holds a file
	// reference (an app package path) rather than a worklist; the
	// referenced file is mounted directly.
	InputIsFileRef bool

	// Mandatory marks the tool as a hard dependency: its failure blocks
	// an artifact type a later phase cannot do without, so the run
	// transitions to Failed instead of proceeding with gaps.
	Mandatory bool

	// Parallel hints that the tool tolerates concurrent execution
	// against the same target set.
	Parallel bool
}

// RawDir returns the directory name for the tool's raw output.
func (d ToolDescriptor) RawDir() string {
	if d.RawSubdir != "" {
		return d.RawSubdir
	}
	return d.Name
}

// PhaseDefinition is one ordered stage of a pipeline with its eligible
// tools. Phases execute strictly in declared order.
type PhaseDefinition struct {
	Name  string
	Tools []ToolDescriptor
}

// Catalog is the immutable tool catalog for one domain.
type Catalog struct {
	Domain string
	Phases []PhaseDefinition

	byName map[string]ToolDescriptor
}

// Tool looks a descriptor up by name.
func (c *Catalog) Tool(name string) (ToolDescriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Tools returns every descriptor across all phases in declared order.
func (c *Catalog) Tools() []ToolDescriptor {
	var out []ToolDescriptor
	for _, p := range c.Phases {
		out = append(out, p.Tools...)
	}
	return out
}

// ForDomain returns the static catalog for web, android, or ios.
func ForDomain(domain string) (*Catalog, error) {
	switch domain {
	case "web":
		return buildCatalog("web", webPhases()), nil
	case "android":
		return buildCatalog("android", androidPhases()), nil
	case "ios":
		return buildCatalog("ios", iosPhases()), nil
	}
	return nil, fmt.Errorf("unknown domain %q", domain)
}

func buildCatalog(domain string, phases []PhaseDefinition) *Catalog {
	c := &Catalog{
		Domain: domain,
		Phases: phases,
		byName: make(map[string]ToolDescriptor),
	}
	for _, p := range phases {
		for _, t := range p.Tools {
			c.byName[t.Name] = t
		}
	}
	return c
}

// webPhases defines the discovery → enumeration → vulnerability pipeline.
func webPhases() []PhaseDefinition {
	return []PhaseDefinition{
		{
			Name: "discovery",
			Tools: []ToolDescriptor{
				{
					Name: "subfinder", Image: "subfinder", Phase: "discovery",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactAssets,
					Args:       []string{"-dL", "/targets.txt", "-silent", "-o", "/output/subfinder.txt"},
					InputMount: "/targets.txt", OutputName: "subfinder.txt",
					VersionArgs: []string{"-version"},
					// Sole producer of assets from raw targets; without it
					// every later phase starves.
					Mandatory: true,
					Parallel:  true,
				},
				{
					Name: "dnsx", Image: "dnsx", Phase: "discovery",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactAssets,
					Args:       []string{"-l", "/assets.txt", "-silent", "-o", "/output/dnsx.txt"},
					InputMount: "/assets.txt", OutputName: "dnsx.txt",
					VersionArgs: []string{"-version"},
				},
				{
					Name: "httpx", Image: "httpx", Phase: "discovery",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactAssets,
					Args:       []string{"-l", "/assets.txt", "-silent", "-json", "-o", "/output/httpx.json"},
					InputMount: "/assets.txt", OutputName: "httpx.json",
					VersionArgs: []string{"-version"},
					Parallel:    true,
				},
			},
		},
		{
			Name: "enumeration",
			Tools: []ToolDescriptor{
				{
					Name: "gau", Image: "gau", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					Args:       []string{"--o", "/output/gau.txt"},
					InputMount: "/assets.txt", OutputName: "gau.txt",
				},
				{
					Name: "waybackurls", Image: "waybackurls", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					InputMount: "/assets.txt", OutputName: "waybackurls.txt",
				},
				{
					Name: "katana", Image: "katana", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					Args:       []string{"-list", "/assets.txt", "-silent", "-o", "/output/katana.txt"},
					InputMount: "/assets.txt", OutputName: "katana.txt",
					VersionArgs: []string{"-version"},
				},
				{
					Name: "hakrawler", Image: "hakrawler", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					InputMount: "/assets.txt", OutputName: "hakrawler.txt",
				},
				{
					Name: "ffuf", Image: "ffuf", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					Args:       []string{"-u", "FUZZ", "-of", "json", "-o", "/output/ffuf.json"},
					InputMount: "/assets.txt", OutputName: "ffuf.json",
					VersionArgs: []string{"-V"},
					Parallel:    true,
				},
				{
					Name: "paramspider", Image: "paramspider", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					InputMount: "/assets.txt", OutputName: "paramspider.txt",
				},
				{
					Name: "graphql-cop", Image: "graphql-cop", Phase: "enumeration",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactPaths,
					InputMount: "/assets.txt", OutputName: "graphql_cop.txt",
				},
				{
					Name: "httpx_paths", Image: "httpx", Phase: "enumeration",
					Consumes: schemas.ArtifactPaths, Produces: schemas.ArtifactPaths,
					Args:       []string{"-l", "/paths.txt", "-silent", "-json", "-o", "/output/httpx.json"},
					InputMount: "/paths.txt", OutputName: "httpx.json",
					VersionArgs: []string{"-version"},
					RawSubdir:   "httpx_paths",
					Parallel:    true,
				},
			},
		},
		{
			Name: "vulnerability",
			Tools: []ToolDescriptor{
				{
					Name: "nuclei", Image: "nuclei", Phase: "vulnerability",
					Consumes: schemas.ArtifactAssets, Produces: schemas.ArtifactFindings,
					Args:       []string{"-l", "/targets.txt", "-jsonl", "-severity", "medium", "-o", "/output/nuclei.jsonl"},
					InputMount: "/targets.txt", OutputName: "nuclei.jsonl",
					VersionArgs: []string{"-version"},
					Parallel:    true,
				},
			},
		},
	}
}

// androidPhases defines the static-analysis pipeline for APKs. The seed
// targets artifact is the APK file reference.
func androidPhases() []PhaseDefinition {
	return []PhaseDefinition{
		{
			Name: "static",
			Tools: []ToolDescriptor{
				{
					Name: "apktool", Image: "apktool", Phase: "static",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactAssets,
					Args:       []string{"d", "/app.apk", "-o", "/output/decoded", "-f"},
					InputMount: "/app.apk", OutputName: "decoded/AndroidManifest.xml",
					InputIsFileRef: true,
					Mandatory:      true,
				},
				{
					Name: "jadx", Image: "jadx", Phase: "static",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactAssets,
					Args:       []string{"/app.apk", "-d", "/output/sources"},
					InputMount: "/app.apk", OutputName: "jadx.json",
					InputIsFileRef: true,
				},
				{
					Name: "androguard", Image: "androguard", Phase: "static",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactFindings,
					Args:       []string{"analyze", "/app.apk", "-o", "/output/androguard.json"},
					InputMount: "/app.apk", OutputName: "androguard.json",
					InputIsFileRef: true,
				},
			},
		},
		{
			Name: "analysis",
			Tools: []ToolDescriptor{
				{
					Name: "mobsf", Image: "opensecurity/mobile-security-framework-mobsf", Phase: "analysis",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactFindings,
					InputMount: "/app.apk", OutputName: "mobsf.json",
					InputIsFileRef: true,
				},
			},
		},
	}
}

// iosPhases defines the static-analysis pipeline for IPAs.
func iosPhases() []PhaseDefinition {
	return []PhaseDefinition{
		{
			Name: "analysis",
			Tools: []ToolDescriptor{
				{
					Name: "mobsf", Image: "opensecurity/mobile-security-framework-mobsf", Phase: "analysis",
					Consumes: schemas.ArtifactTargets, Produces: schemas.ArtifactFindings,
					InputMount: "/app.ipa", OutputName: "mobsf.json",
					InputIsFileRef: true,
					Mandatory:      true,
				},
			},
		},
	}
}
