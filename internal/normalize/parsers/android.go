// File: internal/normalize/parsers/android.go
// Description: Parsers for the Android static-analysis tools. apktool and
// androguard findings come from AndroidManifest.xml; mobsf from its JSON
// report.

package parsers

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/rdSoftInc/deadbolt/api/schemas"
	"github.com/rdSoftInc/deadbolt/internal/normalize"
)

const androidNS = "http://schemas.android.com/apk/res/android"

// dangerousPermissions are the manifest permissions worth flagging on
// their own, independent of how the app uses them.
var dangerousPermissions = map[string]struct{}{
	"android.permission.READ_SMS":               {},
	"android.permission.SEND_SMS":               {},
	"android.permission.READ_CONTACTS":          {},
	"android.permission.WRITE_CONTACTS":         {},
	"android.permission.RECORD_AUDIO":           {},
	"android.permission.CAMERA":                 {},
	"android.permission.READ_EXTERNAL_STORAGE":  {},
	"android.permission.WRITE_EXTERNAL_STORAGE": {},
}

// manifestAttr reads an android:-namespaced attribute off an element.
func manifestAttr(el *etree.Element, name string) string {
	for _, attr := range el.Attr {
		if attr.Key == name && (attr.Space == "android" || attr.NamespaceURI() == androidNS) {
			return attr.Value
		}
	}
	return ""
}

type apktoolParser struct{}

// NewApktool parses a decoded AndroidManifest.xml into configuration
// findings and exported-component surface records.
func NewApktool() normalize.Parser { return &apktoolParser{} }

func (p *apktoolParser) Tool() string { return "apktool" }

func (p *apktoolParser) Parse(raw []byte) ([]schemas.Finding, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("invalid AndroidManifest.xml: %w", err)
	}

	manifest := doc.SelectElement("manifest")
	if manifest == nil {
		return nil, fmt.Errorf("AndroidManifest.xml has no manifest root")
	}

	pkg := manifest.SelectAttrValue("package", "android-app")
	var findings []schemas.Finding

	if app := manifest.SelectElement("application"); app != nil {
		if manifestAttr(app, "debuggable") == "true" {
			findings = append(findings, schemas.Finding{
				Asset:    pkg,
				Title:    "Application is debuggable",
				Kind:     schemas.KindFinding,
				Severity: schemas.SeverityMedium,
			})
		}
		if manifestAttr(app, "usesCleartextTraffic") == "true" {
			findings = append(findings, schemas.Finding{
				Asset:    pkg,
				Title:    "Cleartext traffic is permitted",
				Kind:     schemas.KindFinding,
				Severity: schemas.SeverityMedium,
			})
		}

		// Exported components form the app's external attack surface.
		for _, el := range app.ChildElements() {
			switch el.Tag {
			case "activity", "service", "receiver", "provider":
			default:
				continue
			}
			if manifestAttr(el, "exported") != "true" {
				continue
			}
			name := manifestAttr(el, "name")
			if name == "" {
				continue
			}
			findings = append(findings, schemas.Finding{
				Asset:    name,
				Title:    fmt.Sprintf("Exported Android component (%s)", el.Tag),
				Kind:     schemas.KindAsset,
				Metadata: map[string]string{"component": el.Tag, "package": pkg},
			})
		}
	}

	for _, perm := range manifest.SelectElements("uses-permission") {
		name := manifestAttr(perm, "name")
		if _, dangerous := dangerousPermissions[name]; dangerous {
			findings = append(findings, schemas.Finding{
				Asset:    name,
				Title:    "Dangerous Android permission requested",
				Kind:     schemas.KindFinding,
				Severity: schemas.SeverityMedium,
				Metadata: map[string]string{"permission": name, "package": pkg},
			})
		}
	}

	return findings, nil
}

// jadxReport is the JSON written by the jadx runner after scanning the
// decompiled sources.
type jadxReport struct {
	URLs    []string `json:"urls"`
	Strings []string `json:"strings"`
}

// secretMarkers are the substrings that qualify a decompiled string
// constant as a candidate secret.
var secretMarkers = []string{
	"api_key", "apikey", "secret", "token", "access_key", "auth", "password",
}

// looksLikeSecret filters out framework constants and short matches that
// the marker scan alone would let through.
func looksLikeSecret(s string) bool {
	if len(s) < 8 {
		return false
	}
	if strings.HasPrefix(s, "kotlin.") || strings.HasPrefix(s, "android.") {
		return false
	}
	lower := strings.ToLower(s)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

type jadxParser struct{}

// NewJadx parses the jadx runner's JSON report. Hardcoded URLs become
// asset records; string constants that look like credentials become
// high-severity findings.
func NewJadx() normalize.Parser { return &jadxParser{} }

func (p *jadxParser) Tool() string { return "jadx" }

func (p *jadxParser) Parse(raw []byte) ([]schemas.Finding, error) {
	var report jadxReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid jadx JSON: %w", err)
	}

	var findings []schemas.Finding
	for _, url := range report.URLs {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			continue
		}
		// Resource schema URLs appear in every APK.
		if strings.HasPrefix(url, "http://schemas.android.com") {
			continue
		}
		findings = append(findings, schemas.Finding{
			Asset:    url,
			Title:    "Hardcoded URL in Android APK",
			Kind:     schemas.KindAsset,
			Metadata: map[string]string{"source": "jadx", "type": "url"},
		})
	}

	for _, s := range report.Strings {
		if !looksLikeSecret(s) {
			continue
		}
		findings = append(findings, schemas.Finding{
			Asset:    s,
			Title:    "Potential hardcoded secret in Android APK",
			Kind:     schemas.KindFinding,
			Severity: schemas.SeverityHigh,
			Metadata: map[string]string{"source": "jadx", "confidence": "medium", "category": "secret"},
		})
	}

	return findings, nil
}

// androguardReport is the JSON written by the androguard runner.
type androguardReport struct {
	Package string `json:"package"`
	Sign    string `json:"sign"`
	Issues  []struct {
		Title     string `json:"title"`
		Severity  string `json:"severity"`
		Component string `json:"component"`
	} `json:"issues"`
}

type androguardParser struct{}

// NewAndroguard parses androguard's analysis JSON into findings.
func NewAndroguard() normalize.Parser { return &androguardParser{} }

func (p *androguardParser) Tool() string { return "androguard" }

func (p *androguardParser) Parse(raw []byte) ([]schemas.Finding, error) {
	var report androguardReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("invalid androguard JSON: %w", err)
	}

	asset := report.Package
	if asset == "" {
		asset = "android-app"
	}

	var findings []schemas.Finding
	for _, issue := range report.Issues {
		findings = append(findings, schemas.Finding{
			Asset:    asset,
			Title:    issue.Title,
			Kind:     schemas.KindFinding,
			Severity: parseSeverity(issue.Severity),
			Metadata: map[string]string{"component": issue.Component},
		})
	}

	// Unsigned APKs are reportable on their own.
	if strings.Contains(report.Sign, "Is signed v1: False") {
		findings = append(findings, schemas.Finding{
			Asset: asset, Title: "APK is not v1 signed",
			Kind: schemas.KindFinding, Severity: schemas.SeverityLow,
		})
	}
	if strings.Contains(report.Sign, "Is signed v2: False") {
		findings = append(findings, schemas.Finding{
			Asset: asset, Title: "APK is not v2 signed",
			Kind: schemas.KindFinding, Severity: schemas.SeverityLow,
		})
	}

	return findings, nil
}
