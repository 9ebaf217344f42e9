package config

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/store"
)

// Bootstrap describes the builtin entities a fresh cluster is seeded with:
// the non-deletable default vhost, the builtin defense profiles and
// signatures, and the starter keyword sets. Seeding is leader-only and
// versioned so it runs once per builtin revision.
type Bootstrap struct {
	Version         int64                      `yaml:"version"`
	Thresholds      *model.Thresholds          `yaml:"thresholds,omitempty"`
	DefaultVhost    *model.Vhost               `yaml:"default_vhost,omitempty"`
	Profiles        []*model.DefenseProfile    `yaml:"profiles,omitempty"`
	Signatures      []*model.AttackSignature   `yaml:"signatures,omitempty"`
	Fingerprints    []*model.FingerprintProfile `yaml:"fingerprints,omitempty"`
	BlockedKeywords []string                   `yaml:"blocked_keywords,omitempty"`
	FlaggedKeywords []store.FlaggedKeyword     `yaml:"flagged_keywords,omitempty"`
}

// LoadBootstrap reads a bootstrap file, falling back to the built-in
// defaults when path is empty.
func LoadBootstrap(path string) (*Bootstrap, error) {
	if path == "" {
		return DefaultBootstrap(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	if b.Version == 0 {
		b.Version = 1
	}
	return &b, nil
}

// Seed writes the builtin entities when the stored builtin version is
// older than this bootstrap's. Existing non-builtin configuration is never
// touched.
func (b *Bootstrap) Seed(ctx context.Context, st *store.Client, logger *logging.Logger) error {
	current, err := st.BuiltinProfilesVersion(ctx)
	if err != nil {
		return err
	}
	if current >= b.Version {
		return nil
	}

	if b.DefaultVhost != nil {
		if err := st.PutVhost(ctx, b.DefaultVhost); err != nil {
			return err
		}
	}
	if b.Thresholds != nil {
		if err := st.PutGlobalThresholds(ctx, b.Thresholds); err != nil {
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

	if err := st.SetBuiltinProfilesVersion(ctx, b.Version); err != nil {
		return err
	}
	logger.WithComponent("bootstrap").WithField("version", b.Version).Info("Seeded builtin configuration")
	return nil
}

// DefaultBootstrap is the compiled-in builtin set: the default vhost and
// the balanced-web profile every fresh cluster starts with.
func DefaultBootstrap() *Bootstrap {
	spamThreshold := 50.0

	return &Bootstrap{
		Version: 1,
		Thresholds: &model.Thresholds{
			SpamScore: &spamThreshold,
		},
		DefaultVhost: &model.Vhost{
			ID:       model.DefaultVhostID,
			Priority: 10000,
			Enabled:  true,
		},
		Profiles: []*model.DefenseProfile{balancedWebProfile()},
		Signatures: []*model.AttackSignature{
			{
				ID:       "common-spam",
				Enabled:  true,
				Builtin:  true,
				Priority: 100,
				Tags:     []string{"spam", "builtin"},
				Sections: map[string]model.Section{
					"keyword_filter": {
						"flagged_patterns": []interface{}{
							map[string]interface{}{"pattern": "https?://", "score": 5.0},
							map[string]interface{}{"pattern": "%d%d%d%d%d%d+", "score": 3.0},
						},
					},
					"timing_check": {
						"min_interaction_time_ms": 2000.0,
					},
				},
			},
		},
		BlockedKeywords: []string{"viagra", "cialis"},
		FlaggedKeywords: []store.FlaggedKeyword{
			{Keyword: "casino", Score: 25},
			{Keyword: "lottery", Score: 20},
			{Keyword: "crypto giveaway", Score: 40},
		},
	}
}

// balancedWebProfile is the builtin profile: honeypot and keyword checks
// feed a score branch into allow / captcha / block.
func balancedWebProfile() *model.DefenseProfile {
	medium := 50.0
	high := 80.0

	return &model.DefenseProfile{
		ID:       "balanced-web",
		Name:     "Balanced Web",
		Enabled:  true,
		Builtin:  true,
		Priority: 100,
		Version:  1,
		Settings: model.ProfileSettings{
			DefaultAction:      model.ActionAllow,
			MaxExecutionTimeMs: 200,
		},
		Graph: model.Graph{Nodes: map[string]*model.Node{
			"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "honeypot"}},
			"honeypot": {
				ID: "honeypot", Kind: model.NodeDefense,
				Defense: &model.DefenseSpec{Kind: "honeypot"},
				Outputs: map[string]string{"blocked": "deny", "continue": "keywords"},
			},
			"keywords": {
				ID: "keywords", Kind: model.NodeDefense,
				Defense: &model.DefenseSpec{Kind: "keyword_filter"},
				Outputs: map[string]string{"blocked": "deny", "continue": "timing"},
			},
			"timing": {
				ID: "timing", Kind: model.NodeDefense,
				Defense: &model.DefenseSpec{Kind: "timing_check"},
				Outputs: map[string]string{"blocked": "deny", "continue": "learn"},
			},
			"learn": {
				ID: "learn", Kind: model.NodeObservation,
				Observation: &model.ObservationSpec{Kind: "field_learner", Config: map[string]interface{}{"sample_rate": 0.1}},
				Outputs:     map[string]string{"continue": "total"},
			},
			"total": {
				ID: "total", Kind: model.NodeOperator,
				Operator: &model.OperatorSpec{Op: model.OpSum, Inputs: []string{"honeypot", "keywords", "timing"}},
				Outputs:  map[string]string{"next": "branch"},
			},
			"branch": {
				ID: "branch", Kind: model.NodeOperator,
				Operator: &model.OperatorSpec{
					Op:     model.OpThresholdBranch,
					Inputs: []string{"total"},
					Ranges: []model.ThresholdRange{
						{Min: 0, Max: &medium, Output: "low"},
						{Min: medium, Max: &high, Output: "medium"},
						{Min: high, Max: nil, Output: "high"},
					},
				},
				Outputs: map[string]string{"low": "permit", "medium": "challenge", "high": "deny"},
			},
			"permit":    {ID: "permit", Kind: model.NodeAction, Action: &model.ActionSpec{Action: model.ActionAllow}},
			"challenge": {ID: "challenge", Kind: model.NodeAction, Action: &model.ActionSpec{Action: model.ActionCaptcha}},
			"deny":      {ID: "deny", Kind: model.NodeAction, Action: &model.ActionSpec{Action: model.ActionBlock, Reason: "spam score"}},
		}},
	}
}
