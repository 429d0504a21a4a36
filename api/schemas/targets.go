package schemas

// Target is an identifier under test: a domain, a host, or an app package
// file reference. Targets are immutable once a run starts.
type Target struct {
	// Identifier is the operator-supplied target string.
	Identifier string `json:"identifier"`

	// Host is the normalized comparable form used for scope matching.
	Host string `json:"host"`

	// ScopeCategory is the allow rule pattern that admitted this target.
	ScopeCategory string `json:"scope_category"`
}
