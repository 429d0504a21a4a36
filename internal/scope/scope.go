// File: internal/scope/scope.go
// Description: Pre-execution scope enforcement. All targets are validated
// against allow/deny rules before any tool runs; a single violation aborts
// the entire run.

package scope

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"

	"github.com/rdSoftInc/deadbolt/api/schemas"
)

// RuleKind distinguishes how a rule pattern matches a target host.
type RuleKind string

const (
	// KindExact matches the host itself and nothing else.
	KindExact RuleKind = "exact"
	// KindSuffix matches the host and any subdomain of it. The boundary
	// is a dot: "example.com" never matches "notexample.com".
	KindSuffix RuleKind = "suffix"
)

// Rule is a single allow or deny pattern. Domain patterns are stored
// lowercase; matching is case-insensitive. File-reference targets (app
// packages) are always matched exactly by identifier.
type Rule struct {
	Kind    RuleKind
	Pattern string
}

// Ruleset holds the allow and deny rules for one run. It is loaded once
// and immutable for the run's duration.
type Ruleset struct {
	Allow []Rule
	Deny  []Rule
}

// Violation describes why one target was rejected.
type Violation struct {
	Target string
	Reason string
}

// ScopeError aggregates every violation found during validation, so the
// operator sees the full picture instead of the first offender.
type ScopeError struct {
	Violations []Violation
}

func (e *ScopeError) Error() string {
	lines := make([]string, 0, len(e.Violations)+1)
	lines = append(lines, "scope violation:")
	for _, v := range e.Violations {
		lines = append(lines, fmt.Sprintf("  %s: %s", v.Target, v.Reason))
	}
	return strings.Join(lines, "\n")
}

// scopeDocument is the YAML shape of a scope file. Entries prefixed with
// "*." are suffix rules; everything else matches exactly.
type scopeDocument struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadRuleset reads and parses a scope YAML file.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read scope file: %w", err)
	}
	return ParseRuleset(data)
}

// ParseRuleset parses scope YAML and validates every rule.
func ParseRuleset(data []byte) (*Ruleset, error) {
	var doc scopeDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid scope file: %w", err)
	}

	rs := &Ruleset{}
	for _, entry := range doc.Allow {
		rule, err := parseRule(entry)
		if err != nil {
			return nil, err
		}
		rs.Allow = append(rs.Allow, rule)
	}
	for _, entry := range doc.Deny {
		rule, err := parseRule(entry)
		if err != nil {
			return nil, err
		}
		rs.Deny = append(rs.Deny, rule)
	}
	return rs, nil
}

func parseRule(entry string) (Rule, error) {
	entry = strings.ToLower(strings.TrimSpace(entry))
	if entry == "" {
		return Rule{}, fmt.Errorf("empty scope rule")
	}

	if after, ok := strings.CutPrefix(entry, "*."); ok {
		// A suffix rule must sit below a registrable domain. Without this
		// check a typo like "*.com" would put half the internet in scope.
		if _, err := publicsuffix.EffectiveTLDPlusOne(after); err != nil {
			return Rule{}, fmt.Errorf("suffix rule %q is too broad: %w", entry, err)
		}
		return Rule{Kind: KindSuffix, Pattern: after}, nil
	}
	return Rule{Kind: KindExact, Pattern: entry}, nil
}

// Matches reports whether the rule matches the given host. The host must
// already be normalized to lowercase.
func (r Rule) Matches(host string) bool {
	switch r.Kind {
	case KindExact:
		return host == r.Pattern
	case KindSuffix:
		return host == r.Pattern || strings.HasSuffix(host, "."+r.Pattern)
	}
	return false
}

// Gate validates targets against a ruleset before execution begins. It is
// stateless; every method is safe for concurrent use.
type Gate struct {
	rules *Ruleset
}

// NewGate constructs a gate over an immutable ruleset.
func NewGate(rules *Ruleset) *Gate {
	return &Gate{rules: rules}
}

// Validate checks every target against the deny rules first, then requires
// at least one allow match. It is all-or-nothing: any rejection returns a
// ScopeError covering every violating target, and nothing may execute.
// Validate never mutates any state.
func (g *Gate) Validate(targets []string) ([]schemas.Target, error) {
	var violations []Violation
	allowed := make([]schemas.Target, 0, len(targets))

	for _, raw := range targets {
		target := strings.TrimSpace(raw)
		if target == "" {
			continue
		}

		host := normalizeHost(target)

		denied := false
		for _, rule := range g.rules.Deny {
			if rule.Matches(host) {
				violations = append(violations, Violation{
					Target: target,
					Reason: fmt.Sprintf("explicitly denied by rule %q", rule.Pattern),
				})
				denied = true
				break
			}
		}
		if denied {
			continue
		}

		var category string
		matched := false
		for _, rule := range g.rules.Allow {
			if rule.Matches(host) {
				matched = true
				category = rule.Pattern
				break
			}
		}
		if !matched {
			violations = append(violations, Violation{
				Target: target,
				Reason: "not matched by any allow rule",
			})
			continue
		}

		allowed = append(allowed, schemas.Target{
			Identifier:    target,
			Host:          host,
			ScopeCategory: category,
		})
	}

	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool { return violations[i].Target < violations[j].Target })
		return nil, &ScopeError{Violations: violations}
	}
	return allowed, nil
}

// normalizeHost extracts the comparable host from a target identifier.
// URLs reduce to their hostname; bare domains lowercase; file references
// (app packages) pass through unchanged for exact matching.
func normalizeHost(target string) string {
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	if strings.HasSuffix(target, ".apk") || strings.HasSuffix(target, ".ipa") {
		return target
	}
	return strings.ToLower(target)
}
