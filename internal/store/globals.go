package store

import (
	"context"

	"github.com/dobrevit/formwaf/internal/model"
)

// GlobalConfig bundles every global-layer configuration key.
type GlobalConfig struct {
	Thresholds *model.Thresholds `json:"thresholds,omitempty"`
	Routing    *model.Routing    `json:"routing,omitempty"`
	GeoIP      *model.GeoIP      `json:"geoip,omitempty"`
	Reputation *model.Reputation `json:"reputation,omitempty"`
	Timing     *model.Timing     `json:"timing,omitempty"`
	Webhooks   *model.Webhooks   `json:"webhooks,omitempty"`
}

// Layer converts the global keys into the bottom inheritance layer.
func (g *GlobalConfig) Layer() *model.LayerConfig {
	return &model.LayerConfig{
		Thresholds: g.Thresholds,
		Routing:    g.Routing,
		GeoIP:      g.GeoIP,
		Reputation: g.Reputation,
		Timing:     g.Timing,
		Webhooks:   g.Webhooks,
	}
}

// globalKeyTargets pairs each global key with its decode target.
func globalKeyTargets(g *GlobalConfig) map[string]interface{} {
	return map[string]interface{}{
		KeyConfigThresholds():  &g.Thresholds,
		KeyConfigRouting():     &g.Routing,
		KeyConfigGeoIP():       &g.GeoIP,
		KeyConfigReputation():  &g.Reputation,
		KeyConfigTimingToken(): &g.Timing,
		KeyConfigWebhooks():    &g.Webhooks,
	}
}

// GetGlobalConfig reads every global config key; absent keys stay nil.
func (c *Client) GetGlobalConfig(ctx context.Context) (*GlobalConfig, error) {
	var g GlobalConfig
	for k, target := range globalKeyTargets(&g) {
		if err := c.getJSON(ctx, k, target); err != nil && err != ErrNotFound {
			return nil, err
		}
	}
	return &g, nil
}

// PutGlobalThresholds writes the global thresholds key.
func (c *Client) PutGlobalThresholds(ctx context.Context, t *model.Thresholds) error {
	return c.setJSON(ctx, KeyConfigThresholds(), t)
}

// PutGlobalRouting writes the global routing key.
func (c *Client) PutGlobalRouting(ctx context.Context, r *model.Routing) error {
	return c.setJSON(ctx, KeyConfigRouting(), r)
}

// PutGlobalGeoIP writes the global geoip key.
func (c *Client) PutGlobalGeoIP(ctx context.Context, g *model.GeoIP) error {
	return c.setJSON(ctx, KeyConfigGeoIP(), g)
}

// PutGlobalReputation writes the global reputation key.
func (c *Client) PutGlobalReputation(ctx context.Context, r *model.Reputation) error {
	return c.setJSON(ctx, KeyConfigReputation(), r)
}

// PutGlobalTiming writes the global timing-token key.
func (c *Client) PutGlobalTiming(ctx context.Context, t *model.Timing) error {
	return c.setJSON(ctx, KeyConfigTimingToken(), t)
}

// PutGlobalWebhooks writes the global webhooks key.
func (c *Client) PutGlobalWebhooks(ctx context.Context, w *model.Webhooks) error {
	return c.setJSON(ctx, KeyConfigWebhooks(), w)
}
