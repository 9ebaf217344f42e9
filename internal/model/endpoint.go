package model

// SyntheticEndpointID identifies the default endpoint returned when no
// configured endpoint matches; it inherits only the global layer.
const SyntheticEndpointID = "default"

// PathMatchType classifies how a path matched an endpoint clause.
type PathMatchType string

const (
	PathMatchExact     PathMatchType = "exact"
	PathMatchPrefix    PathMatchType = "prefix"
	PathMatchRegex     PathMatchType = "regex"
	PathMatchSynthetic PathMatchType = "synthetic"
)

// EndpointMatch is the matching clause of an endpoint.
type EndpointMatch struct {
	// Paths are exact path matches.
	Paths []string `json:"paths,omitempty"`
	// PathPrefix matches any path with the given prefix; longest prefix
	// wins across candidates.
	PathPrefix string `json:"path_prefix,omitempty"`
	// PathRegex is matched in endpoint declaration order.
	PathRegex string `json:"path_regex,omitempty"`
	// Methods is the uppercased method set; "*" matches any method.
	Methods []string `json:"methods,omitempty"`
}

// MatchesMethod reports whether the clause's method set admits the given
// uppercased verb. An empty set behaves as the wildcard.
func (m EndpointMatch) MatchesMethod(method string) bool {
	if len(m.Methods) == 0 {
		return true
	}
	for _, mm := range m.Methods {
		if mm == "*" || mm == method {
			return true
		}
	}
	return false
}

// Endpoint is a path-and-method-indexed configuration scope, optionally
// nested inside a vhost (nil VhostID means global scope).
type Endpoint struct {
	ID        string        `json:"id"`
	VhostID   *string       `json:"vhost_id,omitempty"`
	Match     EndpointMatch `json:"match"`
	Priority  int           `json:"priority"`
	Enabled   bool          `json:"enabled"`
	Overrides *LayerConfig  `json:"overrides,omitempty"`
	Metadata  Metadata      `json:"metadata"`
}

// SyntheticEndpoint returns the default endpoint used when nothing matched.
func SyntheticEndpoint() *Endpoint {
	return &Endpoint{
		ID:      SyntheticEndpointID,
		Enabled: true,
	}
}
