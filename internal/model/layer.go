package model

// LayerConfig is one layer of the global → vhost → endpoint inheritance
// chain. Every field is optional; nil means "inherit from the layer below".
// Lists are replaced wholesale when set, never concatenated across layers.
type LayerConfig struct {
	Mode                *Mode              `json:"mode,omitempty"`
	Thresholds          *Thresholds        `json:"thresholds,omitempty"`
	Timing              *Timing            `json:"timing,omitempty"`
	Routing             *Routing           `json:"routing,omitempty"`
	GeoIP               *GeoIP             `json:"geoip,omitempty"`
	Reputation          *Reputation        `json:"reputation,omitempty"`
	Webhooks            *Webhooks          `json:"webhooks,omitempty"`
	DefenseProfiles     []ProfileRef       `json:"defense_profiles,omitempty"`
	DefenseLines        []DefenseLine      `json:"defense_lines,omitempty"`
	FingerprintProfiles []string           `json:"fingerprint_profiles,omitempty"`
	Aggregation         *AggregationPolicy `json:"aggregation,omitempty"`
}

// Thresholds are the per-classifier blocking thresholds surfaced to the
// stick-table layer through the X-WAF response headers.
type Thresholds struct {
	SpamScore   *float64 `json:"spam_score,omitempty"`
	HashRate    *int     `json:"hash_rate,omitempty"`
	IPSpam      *float64 `json:"ip_spam,omitempty"`
	Fingerprint *float64 `json:"fingerprint,omitempty"`
}

// Timing configures the form timing-token checks.
type Timing struct {
	MinFormTimeMs   *int64 `json:"min_form_time_ms,omitempty"`
	MaxFormTimeMs   *int64 `json:"max_form_time_ms,omitempty"`
	TokenTTLSeconds *int64 `json:"token_ttl_seconds,omitempty"`
}

// Routing configures the response side of a decision.
type Routing struct {
	BlockStatus     *int    `json:"block_status,omitempty"`
	CaptchaProvider *string `json:"captcha_provider,omitempty"`
	TarpitSeconds   *int    `json:"tarpit_seconds,omitempty"`
}

// GeoIP configures the country lookup provider.
type GeoIP struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	BlockedCountries []string `json:"blocked_countries,omitempty"`
	FlagScore        *float64 `json:"flag_score,omitempty"`
}

// Reputation configures the IP reputation provider.
type Reputation struct {
	Enabled    *bool    `json:"enabled,omitempty"`
	Provider   *string  `json:"provider,omitempty"`
	BlockScore *float64 `json:"block_score,omitempty"`
}

// Webhooks configures decision event delivery.
type Webhooks struct {
	Enabled *bool    `json:"enabled,omitempty"`
	URL     *string  `json:"url,omitempty"`
	Events  []string `json:"events,omitempty"`
}
