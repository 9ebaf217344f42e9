package dagnode

import (
	"github.com/dobrevit/formwaf/internal/model"
)

// OverlayKey is the config key under which the signature merger exposes
// the merged overlay to a defense node.
const OverlayKey = "signature_patterns"

// Config is a node's kind-specific configuration, JSON-decoded, possibly
// carrying a merged signature overlay under OverlayKey. The Merged*
// accessors fold base and overlay by the same type-directed rules the
// merger applies across signatures.
type Config map[string]interface{}

// Overlay returns the merged signature overlay, nil when none was applied.
func (c Config) Overlay() Config {
	switch v := c[OverlayKey].(type) {
	case map[string]interface{}:
		return Config(v)
	case Config:
		return v
	case model.Section:
		return Config(v)
	default:
		return nil
	}
}

// String reads a string field.
func (c Config) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Float reads a numeric field. JSON decoding yields float64; int covers
// programmatic construction.
func (c Config) Float(key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool reads a boolean field.
func (c Config) Bool(key string) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return false
}

// StringList reads a list of literals.
func (c Config) StringList(key string) []string {
	raw, ok := c[key].([]interface{})
	if !ok {
		if typed, ok := c[key].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// PatternRules reads a list of {pattern, score} pairs.
func (c Config) PatternRules(key string) []model.PatternRule {
	switch v := c[key].(type) {
	case []model.PatternRule:
		return v
	case []interface{}:
		out := make([]model.PatternRule, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			rule := model.PatternRule{}
			if p, ok := m["pattern"].(string); ok {
				rule.Pattern = p
			}
			if s, ok := m["score"].(float64); ok {
				rule.Score = s
			}
			if rule.Pattern != "" {
				out = append(out, rule)
			}
		}
		return out
	}
	return nil
}

// Action reads the node's declared action, empty when unset.
func (c Config) Action() model.Action {
	return model.Action(c.String("action"))
}

// MergedStringList unions the base list with the overlay list, preserving
// first occurrence.
func (c Config) MergedStringList(key string) []string {
	base := c.StringList(key)
	overlay := c.Overlay().StringList(key)
	if len(overlay) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(overlay))
	out := make([]string, 0, len(base)+len(overlay))
	for _, lists := range [][]string{base, overlay} {
		for _, s := range lists {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// MergedPatternRules concatenates base and overlay rules; each rule scores
// independently, so no deduplication.
func (c Config) MergedPatternRules(key string) []model.PatternRule {
	base := c.PatternRules(key)
	overlay := c.Overlay().PatternRules(key)
	if len(overlay) == 0 {
		return base
	}
	return append(append([]model.PatternRule{}, base...), overlay...)
}

// CeilingFloat resolves a ceiling-interpreted numeric field: the minimum
// of base and overlay (most restrictive wins).
func (c Config) CeilingFloat(key string) (float64, bool) {
	base, baseOK := c.Float(key)
	overlay, overlayOK := c.Overlay().Float(key)
	switch {
	case baseOK && overlayOK:
		if overlay < base {
			return overlay, true
		}
		return base, true
	case baseOK:
		return base, true
	case overlayOK:
		return overlay, true
	}
	return 0, false
}

// FloorFloat resolves a floor-interpreted numeric field: the maximum of
// base and overlay.
func (c Config) FloorFloat(key string) (float64, bool) {
	base, baseOK := c.Float(key)
	overlay, overlayOK := c.Overlay().Float(key)
	switch {
	case baseOK && overlayOK:
		if overlay > base {
			return overlay, true
		}
		return base, true
	case baseOK:
		return base, true
	case overlayOK:
		return overlay, true
	}
	return 0, false
}

// MergedBool ORs the base and overlay requirement flags.
func (c Config) MergedBool(key string) bool {
	return c.Bool(key) || c.Overlay().Bool(key)
}
