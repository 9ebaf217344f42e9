package model

// DefaultVhostID is the id of the always-present, non-deletable default
// virtual host.
const DefaultVhostID = "default"

// HostMatchType classifies how a hostname matched a vhost pattern.
type HostMatchType string

const (
	HostMatchExact      HostMatchType = "exact"
	HostMatchWildcard   HostMatchType = "wildcard"
	HostMatchPositional HostMatchType = "positional"
	HostMatchCatchAll   HostMatchType = "catch_all"
	HostMatchDefault    HostMatchType = "default"
)

// Vhost is a hostname-pattern-indexed configuration scope.
type Vhost struct {
	ID string `json:"id"`
	// Hostnames holds the ordered hostname patterns: exact names,
	// label wildcards (*.example.com), positional wildcards
	// (www.*.example.com), or the catch-all sentinels "_" / "*".
	Hostnames []string     `json:"hostnames"`
	Priority  int          `json:"priority"`
	Enabled   bool         `json:"enabled"`
	Defaults  *LayerConfig `json:"defaults,omitempty"`
	Metadata  Metadata     `json:"metadata"`
}

// IsCatchAll reports whether the pattern is one of the catch-all sentinels.
func IsCatchAll(pattern string) bool {
	return pattern == "_" || pattern == "*"
}
