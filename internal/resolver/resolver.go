// Package resolver computes the effective per-request configuration by
// folding the global, vhost, and endpoint layers in precedence order.
package resolver

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/model"
)

// SkipReasonPassthrough is the reason attached when any layer declares
// passthrough mode.
const SkipReasonPassthrough = "mode:passthrough"

// Effective is the fully resolved configuration at a point of use. All
// fields are concrete; built-in defaults fill anything no layer set.
type Effective struct {
	Mode       model.Mode
	SkipWAF    bool
	SkipReason string

	SpamScoreThreshold   float64
	HashRateThreshold    int
	IPSpamThreshold      float64
	FingerprintThreshold float64

	MinFormTimeMs   int64
	MaxFormTimeMs   int64
	TokenTTLSeconds int64

	BlockStatus     int
	CaptchaProvider string
	TarpitSeconds   int

	GeoIPEnabled     bool
	BlockedCountries []string
	GeoIPFlagScore   float64

	ReputationEnabled    bool
	ReputationProvider   string
	ReputationBlockScore float64

	WebhooksEnabled bool
	WebhookURL      string
	WebhookEvents   []string

	DefenseProfiles     []model.ProfileRef
	DefenseLines        []model.DefenseLine
	FingerprintProfiles []string
	Aggregation         model.AggregationPolicy
}

// Defaults are the built-in values used before the first sync and beneath
// every configured layer.
func Defaults() Effective {
	return Effective{
		Mode:                 model.ModeBlocking,
		SpamScoreThreshold:   50,
		HashRateThreshold:    10,
		IPSpamThreshold:      75,
		FingerprintThreshold: 80,
		MinFormTimeMs:        2000,
		MaxFormTimeMs:        3600000,
		TokenTTLSeconds:      3600,
		BlockStatus:          403,
		TarpitSeconds:        5,
		GeoIPFlagScore:       20,
		ReputationBlockScore: 90,
		Aggregation:          model.DefaultAggregation(),
	}
}

// Resolver folds inheritance layers and memoizes per
// (vhost_id, endpoint_id, cache_version).
type Resolver struct {
	memo *lru.Cache[string, *Effective]
}

// New creates a resolver with the given memoization capacity.
func New(memoSize int) (*Resolver, error) {
	memo, err := lru.New[string, *Effective](memoSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{memo: memo}, nil
}

// Resolve computes the effective configuration for a matched (vhost,
// endpoint) pair over the snapshot. Pure over its inputs; the memo key
// includes the snapshot version so stale entries are never served.
func (r *Resolver) Resolve(snap *cache.Snapshot, vhost *model.Vhost, endpoint *model.Endpoint) *Effective {
	vhostID, endpointID := "", model.SyntheticEndpointID
	if vhost != nil {
		vhostID = vhost.ID
	}
	if endpoint != nil {
		endpointID = endpoint.ID
	}
	memoKey := fmt.Sprintf("%s|%s|%d", vhostID, endpointID, snap.Version)
	if eff, ok := r.memo.Get(memoKey); ok {
		return eff
	}

	eff := resolve(snap, vhost, endpoint)
	r.memo.Add(memoKey, eff)
	return eff
}

func resolve(snap *cache.Snapshot, vhost *model.Vhost, endpoint *model.Endpoint) *Effective {
	eff := Defaults()

	layers := make([]*model.LayerConfig, 0, 3)
	if snap.Global != nil {
		layers = append(layers, snap.Global)
	}
	// The synthetic endpoint inherits only the global layer.
	synthetic := endpoint != nil && endpoint.ID == model.SyntheticEndpointID
	if !synthetic {
		if vhost != nil && vhost.Defaults != nil {
			layers = append(layers, vhost.Defaults)
		}
		if endpoint != nil && endpoint.Overrides != nil {
			layers = append(layers, endpoint.Overrides)
		}
	}

	passthrough := false
	for _, layer := range layers {
		applyLayer(&eff, layer)
		if layer.Mode != nil && *layer.Mode == model.ModePassthrough {
			passthrough = true
		}
	}

	// Passthrough at any layer short-circuits all downstream processing.
	if passthrough {
		eff.Mode = model.ModePassthrough
		eff.SkipWAF = true
		eff.SkipReason = SkipReasonPassthrough
	}

	return &eff
}

// applyLayer folds one layer into the effective view: scalars child-win
// when present, object fields merge per key, lists replace wholesale, and
// the aggregation policy replaces as a whole.
func applyLayer(eff *Effective, l *model.LayerConfig) {
	if l.Mode != nil && l.Mode.Valid() {
		eff.Mode = *l.Mode
	}
	if t := l.Thresholds; t != nil {
		if t.SpamScore != nil {
			eff.SpamScoreThreshold = *t.SpamScore
		}
		if t.HashRate != nil {
			eff.HashRateThreshold = *t.HashRate
		}
		if t.IPSpam != nil {
			eff.IPSpamThreshold = *t.IPSpam
		}
		if t.Fingerprint != nil {
			eff.FingerprintThreshold = *t.Fingerprint
		}
	}
	if t := l.Timing; t != nil {
		if t.MinFormTimeMs != nil {
			eff.MinFormTimeMs = *t.MinFormTimeMs
		}
		if t.MaxFormTimeMs != nil {
			eff.MaxFormTimeMs = *t.MaxFormTimeMs
		}
		if t.TokenTTLSeconds != nil {
			eff.TokenTTLSeconds = *t.TokenTTLSeconds
		}
	}
	if rt := l.Routing; rt != nil {
		if rt.BlockStatus != nil {
			eff.BlockStatus = *rt.BlockStatus
		}
		if rt.CaptchaProvider != nil {
			eff.CaptchaProvider = *rt.CaptchaProvider
		}
		if rt.TarpitSeconds != nil {
			eff.TarpitSeconds = *rt.TarpitSeconds
		}
	}
	if g := l.GeoIP; g != nil {
		if g.Enabled != nil {
			eff.GeoIPEnabled = *g.Enabled
		}
		if g.BlockedCountries != nil {
			eff.BlockedCountries = g.BlockedCountries
		}
		if g.FlagScore != nil {
			eff.GeoIPFlagScore = *g.FlagScore
		}
	}
	if rep := l.Reputation; rep != nil {
		if rep.Enabled != nil {
			eff.ReputationEnabled = *rep.Enabled
		}
		if rep.Provider != nil {
			eff.ReputationProvider = *rep.Provider
		}
		if rep.BlockScore != nil {
			eff.ReputationBlockScore = *rep.BlockScore
		}
	}
	if w := l.Webhooks; w != nil {
		if w.Enabled != nil {
			eff.WebhooksEnabled = *w.Enabled
		}
		if w.URL != nil {
			eff.WebhookURL = *w.URL
		}
		if w.Events != nil {
			eff.WebhookEvents = w.Events
		}
	}
	if l.DefenseProfiles != nil {
		eff.DefenseProfiles = l.DefenseProfiles
	}
	if l.DefenseLines != nil {
		eff.DefenseLines = l.DefenseLines
	}
	if l.FingerprintProfiles != nil {
		eff.FingerprintProfiles = l.FingerprintProfiles
	}
	if l.Aggregation != nil {
		eff.Aggregation = *l.Aggregation
	}
}
