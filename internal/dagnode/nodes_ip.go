package dagnode

import (
	"context"
	"strings"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/provider"
)

// ipFilterNode classifies the client address: whitelist, GeoIP country
// policy, and IP reputation. Provider failures are treated as an unknown
// signal, never as a blocking outcome.
type ipFilterNode struct {
	geoip      provider.GeoIP
	reputation provider.Reputation
	logger     *logging.Logger
}

func (n *ipFilterNode) Kind() string { return "ip_filter" }

func (n *ipFilterNode) Evaluate(ctx context.Context, req *RequestContext, cfg Config) (*Result, error) {
	if req.ClientIP == nil {
		return ContinueResult(), nil
	}

	if req.Snapshot.IPWhitelisted(req.ClientIP) {
		return &Result{
			Outcome: OutcomeAllowed,
			Flags:   []string{"ip_filter:whitelisted"},
		}, nil
	}

	res := ContinueResult()

	if req.Effective.GeoIPEnabled && n.geoip != nil {
		country, err := n.geoip.Country(ctx, req.ClientIP)
		if err != nil {
			// Unknown signal: flag and continue per the provider fallback.
			res.Flags = append(res.Flags, "geoip:error")
		} else if country != "" {
			for _, blocked := range req.Effective.BlockedCountries {
				if strings.EqualFold(blocked, country) {
					return &Result{
						Outcome: OutcomeBlocked,
						Score:   scoreOr(cfg, 85),
						Flags:   []string{flagf("geoip:blocked:%s", strings.ToUpper(country))},
						Details: map[string]interface{}{"country": country},
					}, nil
				}
			}
		}
	}

	if req.Effective.ReputationEnabled && n.reputation != nil {
		score, err := n.reputation.Score(ctx, req.ClientIP)
		switch {
		case err != nil:
			res.Flags = append(res.Flags, "reputation:error")
		case score >= req.Effective.ReputationBlockScore:
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   score,
				Flags:   []string{"reputation:blocked"},
				Details: map[string]interface{}{"reputation_score": score},
			}, nil
		case score >= req.Effective.ReputationBlockScore/2:
			res.Score += score / 4
			res.Flags = append(res.Flags, "reputation:suspicious")
		}
	}

	return res, nil
}
