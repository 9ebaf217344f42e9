package config

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/store"
)

// ExportBundle is the full-configuration backup format. Entity ids and
// priorities round-trip exactly; timestamps are carried as-is.
type ExportBundle struct {
	Vhosts          []*model.Vhost              `json:"vhosts"`
	Endpoints       []*model.Endpoint           `json:"endpoints"`
	Profiles        []*model.DefenseProfile     `json:"profiles"`
	Signatures      []*model.AttackSignature    `json:"signatures"`
	Fingerprints    []*model.FingerprintProfile `json:"fingerprints"`
	BlockedKeywords []string                    `json:"blocked_keywords"`
	FlaggedKeywords []store.FlaggedKeyword      `json:"flagged_keywords"`
	BlockedHashes   []string                    `json:"blocked_hashes"`
	WhitelistIPs    []string                    `json:"whitelist_ips"`
	Globals         *store.GlobalConfig         `json:"globals,omitempty"`
}

// Export reads every configuration category into a bundle.
func Export(ctx context.Context, st *store.Client) (*ExportBundle, error) {
	b := &ExportBundle{}
	var err error

	if b.Vhosts, err = st.ListVhosts(ctx); err != nil {
		return nil, err
	}
	if b.Endpoints, err = st.ListGlobalEndpoints(ctx); err != nil {
		return nil, err
	}
	for _, v := range b.Vhosts {
		scoped, err := st.ListVhostEndpoints(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		b.Endpoints = append(b.Endpoints, scoped...)
	}
	if b.Profiles, err = st.ListProfiles(ctx); err != nil {
		return nil, err
	}
	if b.Signatures, err = st.ListSignatures(ctx); err != nil {
		return nil, err
	}
	if b.Fingerprints, err = st.ListFingerprintProfiles(ctx); err != nil {
		return nil, err
	}
	if b.BlockedKeywords, err = st.BlockedKeywords(ctx); err != nil {
		return nil, err
	}
	if b.FlaggedKeywords, err = st.FlaggedKeywords(ctx); err != nil {
		return nil, err
	}
	if b.BlockedHashes, err = st.BlockedHashes(ctx); err != nil {
		return nil, err
	}
	if b.WhitelistIPs, err = st.WhitelistedIPs(ctx); err != nil {
		return nil, err
	}
	if b.Globals, err = st.GetGlobalConfig(ctx); err != nil {
		return nil, err
	}

	// Set-backed categories come back unordered; sort for byte-stable
	// backups.
	sort.Strings(b.BlockedKeywords)
	sort.Strings(b.BlockedHashes)
	sort.Strings(b.WhitelistIPs)
	sort.Slice(b.FlaggedKeywords, func(i, j int) bool {
		return b.FlaggedKeywords[i].Keyword < b.FlaggedKeywords[j].Keyword
	})
	return b, nil
}

// Import writes a bundle back into the store, preserving ids and
// priorities.
func Import(ctx context.Context, st *store.Client, b *ExportBundle) error {
	for _, v := range b.Vhosts {
		if err := st.PutVhost(ctx, v); err != nil {
			return err
		}
	}
	for _, e := range b.Endpoints {
		if err := st.PutEndpoint(ctx, e); err != nil {
			return err
		}
	}
	for _, p := range b.Profiles {
		if err := st.PutProfile(ctx, p); err != nil {
			return err
		}
	}
	for _, s := range b.Signatures {
		if err := st.PutSignature(ctx, s); err != nil {
			return err
		}
	}
	for _, fp := range b.Fingerprints {
		if err := st.PutFingerprintProfile(ctx, fp); err != nil {
			return err
		}
	}
	if err := st.AddBlockedKeywords(ctx, b.BlockedKeywords...); err != nil {
		return err
	}
	if err := st.AddFlaggedKeywords(ctx, b.FlaggedKeywords...); err != nil {
		return err
	}
	if err := st.AddBlockedHashes(ctx, b.BlockedHashes...); err != nil {
		return err
	}
	if err := st.AddWhitelistedIPs(ctx, b.WhitelistIPs...); err != nil {
		return err
	}
	if g := b.Globals; g != nil {
		if g.Thresholds != nil {
			if err := st.PutGlobalThresholds(ctx, g.Thresholds); err != nil {
				return err
			}
		}
		if g.Routing != nil {
			if err := st.PutGlobalRouting(ctx, g.Routing); err != nil {
				return err
			}
		}
		if g.GeoIP != nil {
			if err := st.PutGlobalGeoIP(ctx, g.GeoIP); err != nil {
				return err
			}
		}
		if g.Reputation != nil {
			if err := st.PutGlobalReputation(ctx, g.Reputation); err != nil {
				return err
			}
		}
		if g.Timing != nil {
			if err := st.PutGlobalTiming(ctx, g.Timing); err != nil {
				return err
			}
		}
		if g.Webhooks != nil {
			if err := st.PutGlobalWebhooks(ctx, g.Webhooks); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarshalBundle renders a bundle as stable JSON for backup files.
func MarshalBundle(b *ExportBundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// UnmarshalBundle parses a backup file.
func UnmarshalBundle(raw []byte) (*ExportBundle, error) {
	var b ExportBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
