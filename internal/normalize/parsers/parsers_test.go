package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

func TestLineParser_CountsOccurrences(t *testing.T) {
	p := NewSubfinder()
	findings, err := p.Parse([]byte("a.example.com\nb.example.com\n\na.example.com\n  \n"))
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "a.example.com", findings[0].Asset)
	assert.Equal(t, 2, findings[0].Occurrences)
	assert.Equal(t, schemas.KindAsset, findings[0].Kind)
	assert.Equal(t, "b.example.com", findings[1].Asset)
	assert.Equal(t, 1, findings[1].Occurrences)
}

func TestLineParser_EmptyOutput(t *testing.T) {
	findings, err := NewGau().Parse([]byte("\n\n  \n"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestGraphQLCop_SplitsEndpointAndDetail(t *testing.T) {
	raw := []byte("graphql-cop starting scan\n" +
		"https://api.example.com/graphql :: Introspection enabled\n" +
		"https://api.example.com/graphql :: Alias overloading allowed\n" +
		"https://api.example.com/graphql :: Introspection enabled\n")
	findings, err := NewGraphQLCop().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "https://api.example.com/graphql", findings[0].Asset)
	assert.Equal(t, "GraphQL exposure: Introspection enabled", findings[0].Title)
	assert.Equal(t, schemas.KindPath, findings[0].Kind)
	assert.Equal(t, []string{"graphql"}, findings[0].Technologies)
	assert.Equal(t, 2, findings[0].Occurrences)

	assert.Equal(t, "GraphQL exposure: Alias overloading allowed", findings[1].Title)
	assert.Equal(t, 1, findings[1].Occurrences)
}

func TestGraphQLCop_SkipsLinesWithoutSeparator(t *testing.T) {
	findings, err := NewGraphQLCop().Parse([]byte("no separator here\nanother banner line\n"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestHTTPX_ParsesJSONL(t *testing.T) {
	raw := []byte(`{"url":"https://api.example.com","title":"API Gateway","status_code":200,"tech":["nginx","go"],"webserver":"nginx/1.25","cdn":true,"cdn_name":"cloudflare"}
{"url":"https://www.example.com","status_code":301}
`)
	findings, err := NewHTTPX("httpx", schemas.KindAsset).Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	first := findings[0]
	assert.Equal(t, "https://api.example.com", first.Asset)
	assert.Equal(t, "API Gateway", first.Title)
	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, []string{"nginx", "go"}, first.Technologies)
	assert.Equal(t, "cloudflare", first.CDNName)

	// Missing title falls back to a generic one.
	assert.Equal(t, "Live HTTP Service", findings[1].Title)
}

func TestHTTPX_InvalidJSONFails(t *testing.T) {
	_, err := NewHTTPX("httpx", schemas.KindAsset).Parse([]byte("{not json}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestHTTPX_SkipsRecordsWithoutURL(t *testing.T) {
	findings, err := NewHTTPX("httpx_paths", schemas.KindPath).Parse([]byte(`{"status_code":200}` + "\n"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestNuclei_ParsesMatches(t *testing.T) {
	raw := []byte(`{"template-id":"exposed-panel","host":"https://a.example.com","matched-at":"https://a.example.com/admin","info":{"name":"Exposed Admin Panel","severity":"high"}}
{"template-id":"tech-detect","host":"https://a.example.com","info":{"name":"Tech Detect","severity":"info"}}
`)
	findings, err := NewNuclei().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "https://a.example.com/admin", findings[0].Asset)
	assert.Equal(t, "Exposed Admin Panel", findings[0].Title)
	assert.Equal(t, schemas.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "exposed-panel", findings[0].TemplateID)
	assert.Equal(t, schemas.KindFinding, findings[0].Kind)
	assert.NotEmpty(t, findings[0].Evidence)

	// Host is the fallback asset when matched-at is absent.
	assert.Equal(t, "https://a.example.com", findings[1].Asset)
	assert.Equal(t, schemas.SeverityInfo, findings[1].Severity)
}

func TestNuclei_SkipsIncompleteRecords(t *testing.T) {
	findings, err := NewNuclei().Parse([]byte(`{"info":{"severity":"high"}}` + "\n"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestFfuf_ParsesResults(t *testing.T) {
	raw := []byte(`{"results":[{"url":"https://a.example.com/backup","status":200,"length":1024,"words":80},{"url":"","status":403}]}`)
	findings, err := NewFfuf().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "https://a.example.com/backup", f.Asset)
	assert.Equal(t, schemas.KindPath, f.Kind)
	assert.Equal(t, 200, f.StatusCode)
	assert.Equal(t, "1024", f.Metadata["length"])
}

const sampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
  <uses-permission android:name="android.permission.CAMERA"/>
  <uses-permission android:name="android.permission.INTERNET"/>
  <application android:debuggable="true" android:usesCleartextTraffic="true">
    <activity android:name=".MainActivity" android:exported="true"/>
    <service android:name=".SyncService" android:exported="false"/>
    <receiver android:name=".BootReceiver" android:exported="true"/>
  </application>
</manifest>`

func TestApktool_ParsesManifest(t *testing.T) {
	findings, err := NewApktool().Parse([]byte(sampleManifest))
	require.NoError(t, err)

	titles := make(map[string]schemas.Finding)
	for _, f := range findings {
		titles[f.Title] = f
	}

	debuggable, ok := titles["Application is debuggable"]
	require.True(t, ok)
	assert.Equal(t, "com.example.app", debuggable.Asset)
	assert.Equal(t, schemas.SeverityMedium, debuggable.Severity)

	_, ok = titles["Cleartext traffic is permitted"]
	assert.True(t, ok)

	perm, ok := titles["Dangerous Android permission requested"]
	require.True(t, ok)
	assert.Equal(t, "android.permission.CAMERA", perm.Asset)

	// Only exported components count as surface.
	var exported []schemas.Finding
	for _, f := range findings {
		if f.Kind == schemas.KindAsset {
			exported = append(exported, f)
		}
	}
	require.Len(t, exported, 2)
}

func TestApktool_RejectsInvalidXML(t *testing.T) {
	_, err := NewApktool().Parse([]byte("<manifest><unclosed>"))
	require.Error(t, err)
}

func TestApktool_RequiresManifestRoot(t *testing.T) {
	_, err := NewApktool().Parse([]byte("<something/>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest root")
}

func TestJadx_ExtractsURLsAndSecrets(t *testing.T) {
	raw := []byte(`{
  "urls": [
    "https://api.backend.example.com/v1",
    "http://schemas.android.com/apk/res/android",
    "content://com.example.provider"
  ],
  "strings": [
    "prod_api_key_9f8e7d6c",
    "kotlin.collections.secret_registry",
    "auth"
  ],
  "files": ["com/example/app/Config.java"]
}`)
	findings, err := NewJadx().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "https://api.backend.example.com/v1", findings[0].Asset)
	assert.Equal(t, "Hardcoded URL in Android APK", findings[0].Title)
	assert.Equal(t, schemas.KindAsset, findings[0].Kind)
	assert.Equal(t, "url", findings[0].Metadata["type"])

	assert.Equal(t, "prod_api_key_9f8e7d6c", findings[1].Asset)
	assert.Equal(t, "Potential hardcoded secret in Android APK", findings[1].Title)
	assert.Equal(t, schemas.KindFinding, findings[1].Kind)
	assert.Equal(t, schemas.SeverityHigh, findings[1].Severity)
	assert.Equal(t, "secret", findings[1].Metadata["category"])
}

func TestJadx_RejectsInvalidJSON(t *testing.T) {
	_, err := NewJadx().Parse([]byte("src/main/java/com/example/App.java"))
	assert.Error(t, err)
}

func TestAndroguard_ParsesIssuesAndSignatures(t *testing.T) {
	raw := []byte(`{
  "package": "com.example.app",
  "sign": "Is signed v1: False\nIs signed v2: True",
  "issues": [
    {"title": "Hardcoded API key", "severity": "high", "component": "com.example.app.Config"}
  ]
}`)
	findings, err := NewAndroguard().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "Hardcoded API key", findings[0].Title)
	assert.Equal(t, schemas.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "com.example.app.Config", findings[0].Metadata["component"])

	assert.Equal(t, "APK is not v1 signed", findings[1].Title)
}

func TestMobSF_ParsesReportSections(t *testing.T) {
	raw := []byte(`{
  "package_name": "com.example.app",
  "manifest_analysis": {
    "manifest_findings": [
      {"title": "Clear text traffic is Enabled", "severity": "high", "rule": "android_clear_text", "description": "The app allows cleartext traffic."}
    ]
  },
  "code_analysis": {
    "findings": {
      "android_logging": {
        "metadata": {"description": "The App logs information.", "severity": "warning", "cwe": "CWE-532", "owasp-mobile": "M1"},
        "files": {"a.java": "10", "b.java": "20"}
      }
    }
  },
  "network_security": {
    "network_findings": [
      {"description": "Base config permits cleartext.", "severity": "high"}
    ]
  },
  "certificate_analysis": {
    "certificate_findings": [
      ["warning", "Signed with SHA1", "Weak signature algorithm"],
      ["malformed"]
    ]
  }
}`)
	findings, err := NewMobSF().Parse(raw)
	require.NoError(t, err)
	require.Len(t, findings, 4)

	byTemplate := make(map[string]schemas.Finding)
	for _, f := range findings {
		byTemplate[f.TemplateID] = f
		assert.Equal(t, "com.example.app", f.Asset)
		assert.Equal(t, schemas.KindFinding, f.Kind)
	}

	code := byTemplate["android_logging"]
	assert.Equal(t, 2, code.Occurrences)
	assert.Equal(t, schemas.SeverityMedium, code.Severity)
	assert.Equal(t, "CWE-532", code.Metadata["cwe"])

	manifest := byTemplate["android_clear_text"]
	assert.Equal(t, schemas.SeverityHigh, manifest.Severity)
}

func TestMobSF_AssetFallsBackToFileName(t *testing.T) {
	findings, err := NewMobSF().Parse([]byte(`{"file_name":"app.ipa","network_security":{"network_findings":[{"description":"x","severity":"low"}]}}`))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "app.ipa", findings[0].Asset)
}

func TestForDomain_ParserSets(t *testing.T) {
	for domain, expectTool := range map[string]string{
		"web":     "nuclei",
		"android": "apktool",
		"ios":     "mobsf",
	} {
		found := false
		for _, p := range ForDomain(domain) {
			if p.Tool() == expectTool {
				found = true
			}
		}
		assert.True(t, found, "domain %s should include %s", domain, expectTool)
	}
	assert.Empty(t, ForDomain("bogus"))
}

func FuzzHTTPXParse(f *testing.F) {
	f.Add([]byte(`{"url":"https://a.example.com","status_code":200}`))
	f.Add([]byte("not json"))
	f.Add([]byte(""))
	parser := NewHTTPX("httpx", schemas.KindAsset)
	f.Fuzz(func(t *testing.T, data []byte) {
		findings, err := parser.Parse(data)
		if err != nil {
			return
		}
		for _, fi := range findings {
			if fi.Asset == "" {
				t.Fatal("parser emitted a finding without an asset")
			}
		}
	})
}
