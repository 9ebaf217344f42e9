package model

// FingerprintAction is the action taken when a fingerprint profile matches.
type FingerprintAction string

const (
	FingerprintAllow  FingerprintAction = "allow"
	FingerprintBlock  FingerprintAction = "block"
	FingerprintFlag   FingerprintAction = "flag"
	FingerprintIgnore FingerprintAction = "ignore"
)

// ConditionVerb is a per-header matching verb.
type ConditionVerb string

const (
	CondPresent    ConditionVerb = "present"
	CondAbsent     ConditionVerb = "absent"
	CondMatches    ConditionVerb = "matches"
	CondNotMatches ConditionVerb = "not_matches"
)

// HeaderCondition is one per-header condition in a fingerprint match
// clause.
type HeaderCondition struct {
	Header  string        `json:"header"`
	Verb    ConditionVerb `json:"verb"`
	Pattern string        `json:"pattern,omitempty"`
}

// FingerprintMatch is the matching clause of a fingerprint profile.
type FingerprintMatch struct {
	// Mode is "all" or "any".
	Mode       string            `json:"mode"`
	Conditions []HeaderCondition `json:"conditions"`
}

// FingerprintHeaders selects which headers feed the fingerprint hash.
type FingerprintHeaders struct {
	Headers           []string `json:"headers"`
	Normalize         bool     `json:"normalize"`
	MaxLength         int      `json:"max_length,omitempty"`
	IncludeFieldNames bool     `json:"include_field_names"`
}

// FingerprintRateLimit is an optional per-fingerprint rate limit.
type FingerprintRateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
}

// FingerprintProfile is an early classifier over request headers.
type FingerprintProfile struct {
	ID        string                `json:"id"`
	Priority  int                   `json:"priority"`
	Action    FingerprintAction     `json:"action"`
	Score     float64               `json:"score"`
	Match     FingerprintMatch      `json:"match"`
	Headers   FingerprintHeaders    `json:"headers"`
	RateLimit *FingerprintRateLimit `json:"rate_limit,omitempty"`
	Metadata  Metadata              `json:"metadata"`
}
