package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

func TestForDomain_UnknownDomain(t *testing.T) {
	_, err := ForDomain("windows")
	require.Error(t, err)
}

func TestForDomain_WebPhaseOrder(t *testing.T) {
	c, err := ForDomain("web")
	require.NoError(t, err)
	require.Len(t, c.Phases, 3)
	assert.Equal(t, "discovery", c.Phases[0].Name)
	assert.Equal(t, "enumeration", c.Phases[1].Name)
	assert.Equal(t, "vulnerability", c.Phases[2].Name)
}

func TestForDomain_MandatoryTools(t *testing.T) {
	for domain, tool := range map[string]string{
		"web":     "subfinder",
		"android": "apktool",
		"ios":     "mobsf",
	} {
		c, err := ForDomain(domain)
		require.NoError(t, err)
		d, ok := c.Tool(tool)
		require.True(t, ok, "%s missing from %s catalog", tool, domain)
		assert.True(t, d.Mandatory, "%s should be mandatory in %s", tool, domain)
	}
}

func TestWebCatalog_DiscoveryWaveOrdering(t *testing.T) {
	c, err := ForDomain("web")
	require.NoError(t, err)

	// Subfinder seeds assets from raw targets; the enrichment probes
	// consume assets and therefore belong to a later wave in the same
	// phase. Consume ranks encode that ordering.
	sub, ok := c.Tool("subfinder")
	require.True(t, ok)
	for _, name := range []string{"dnsx", "httpx"} {
		d, ok := c.Tool(name)
		require.True(t, ok)
		assert.Less(t,
			sub.Consumes.ConsumeRank(), d.Consumes.ConsumeRank(),
			"%s must wait for the asset producer wave", name)
	}
}

func TestCatalog_ToolLookup(t *testing.T) {
	c, err := ForDomain("web")
	require.NoError(t, err)

	d, ok := c.Tool("nuclei")
	require.True(t, ok)
	assert.Equal(t, schemas.ArtifactAssets, d.Consumes)
	assert.Equal(t, schemas.ArtifactFindings, d.Produces)

	_, ok = c.Tool("ghost")
	assert.False(t, ok)
}

func TestCatalog_HttpxPlaysTwoRoles(t *testing.T) {
	c, err := ForDomain("web")
	require.NoError(t, err)

	probe, ok := c.Tool("httpx")
	require.True(t, ok)
	paths, ok := c.Tool("httpx_paths")
	require.True(t, ok)

	assert.Equal(t, schemas.ArtifactAssets, probe.Consumes)
	assert.Equal(t, schemas.ArtifactPaths, paths.Consumes)
	assert.Equal(t, "httpx_paths", paths.RawDir())
}

func TestMobileCatalogs_UseFileRefInputs(t *testing.T) {
	for _, domain := range []string{"android", "ios"} {
		c, err := ForDomain(domain)
		require.NoError(t, err)
		for _, tool := range c.Tools() {
			if tool.Consumes == schemas.ArtifactTargets {
				assert.True(t, tool.InputIsFileRef,
					"%s/%s consumes the app package and must mount it directly", domain, tool.Name)
			}
		}
	}
}

func TestCatalog_ToolsDeclaredOrder(t *testing.T) {
	c, err := ForDomain("android")
	require.NoError(t, err)

	tools := c.Tools()
	require.Len(t, tools, 4)
	assert.Equal(t, "apktool", tools[0].Name)
	assert.Equal(t, "mobsf", tools[3].Name)
}
