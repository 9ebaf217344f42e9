// Package signature overlays attack signature sections onto a profile's
// defense nodes at execution time.
package signature

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/werrors"
)

// Merger composes signature overlays into profile graphs. Merged graphs
// are memoized under (profile id, signature set, versions); the underlying
// profile graph is never mutated.
type Merger struct {
	memo *lru.Cache[string, *model.Graph]
}

// NewMerger creates a merger with the given memoization capacity.
func NewMerger(memoSize int) (*Merger, error) {
	memo, err := lru.New[string, *model.Graph](memoSize)
	if err != nil {
		return nil, err
	}
	return &Merger{memo: memo}, nil
}

// Merge returns a graph in which every defense node whose kind matches a
// signature section carries the folded overlay under the
// "signature_patterns" config key. Signatures apply in priority order
// (ascending, id breaking ties); disabled signatures are skipped.
func (m *Merger) Merge(profile *model.DefenseProfile, sigs []*model.AttackSignature) (*model.Graph, error) {
	active := make([]*model.AttackSignature, 0, len(sigs))
	for _, s := range sigs {
		if s != nil && s.Enabled {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return &profile.Graph, nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].ID < active[j].ID
	})

	key := memoKey(profile, active)
	if g, ok := m.memo.Get(key); ok {
		return g, nil
	}

	merged, err := merge(profile, active)
	if err != nil {
		return nil, err
	}
	m.memo.Add(key, merged)
	return merged, nil
}

func memoKey(profile *model.DefenseProfile, sigs []*model.AttackSignature) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%d", profile.ID, profile.Version)
	for _, s := range sigs {
		fmt.Fprintf(&b, "|%s@%d", s.ID, s.Version)
	}
	return b.String()
}

func merge(profile *model.DefenseProfile, sigs []*model.AttackSignature) (*model.Graph, error) {
	out := &model.Graph{Nodes: make(map[string]*model.Node, len(profile.Graph.Nodes))}

	for id, n := range profile.Graph.Nodes {
		if n.Kind != model.NodeDefense || n.Defense == nil {
			out.Nodes[id] = n
			continue
		}

		overlay := model.Section{}
		for _, s := range sigs {
			section, ok := s.Sections[n.Defense.Kind]
			if !ok {
				continue
			}
			if err := foldSection(overlay, section); err != nil {
				return nil, err
			}
		}
		if len(overlay) == 0 {
			out.Nodes[id] = n
			continue
		}
		if err := checkFieldConflicts(overlay, n.Defense.Kind); err != nil {
			return nil, err
		}

		clone := *n
		spec := *n.Defense
		cfg := make(map[string]interface{}, len(spec.Config)+1)
		for k, v := range spec.Config {
			cfg[k] = v
		}
		cfg[dagnode.OverlayKey] = map[string]interface{}(overlay)
		spec.Config = cfg
		clone.Defense = &spec
		out.Nodes[id] = &clone
	}

	return out, nil
}

// foldSection folds one signature section into the accumulating overlay
// using the type-directed rules: literal lists union preserving first
// occurrence, pattern-rule lists concatenate, ceilings take the minimum,
// floors the maximum, booleans OR. Fields no rule covers keep the
// highest-priority signature's value (signatures fold in priority order,
// so first writer wins).
func foldSection(dst model.Section, src model.Section) error {
	for field, value := range src {
		existing, seen := dst[field]
		switch v := value.(type) {
		case []interface{}:
			if isPatternRuleList(v) {
				dst[field] = concatLists(existing, v)
			} else {
				dst[field] = unionLists(existing, v)
			}
		case float64:
			if !seen {
				dst[field] = v
				continue
			}
			prev, ok := existing.(float64)
			if !ok {
				continue
			}
			if isFloorField(field) {
				if v > prev {
					dst[field] = v
				}
			} else if v < prev {
				dst[field] = v
			}
		case int:
			return foldSection(dst, model.Section{field: float64(v)})
		case bool:
			prev, _ := existing.(bool)
			dst[field] = prev || v
		default:
			if !seen {
				dst[field] = v
			}
		}
	}
	return nil
}

// isPatternRuleList detects a list of {pattern, score} pairs.
func isPatternRuleList(list []interface{}) bool {
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			if _, hasPattern := m["pattern"]; hasPattern {
				return true
			}
		}
		break
	}
	return false
}

// unionLists deduplicates string entries preserving first occurrence.
func unionLists(existing interface{}, add []interface{}) []interface{} {
	out, _ := existing.([]interface{})
	seen := make(map[string]struct{}, len(out)+len(add))
	for _, item := range out {
		if s, ok := item.(string); ok {
			seen[s] = struct{}{}
		}
	}
	for _, item := range add {
		s, ok := item.(string)
		if !ok {
			out = append(out, item)
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, item)
	}
	return out
}

// concatLists appends without deduplication; each signature's rules score
// independently.
func concatLists(existing interface{}, add []interface{}) []interface{} {
	out, _ := existing.([]interface{})
	return append(out, add...)
}

// isFloorField classifies numeric fields whose merge takes the maximum.
func isFloorField(field string) bool {
	return strings.HasPrefix(field, "min_")
}

// checkFieldConflicts rejects overlays where a field is both required and
// forbidden.
func checkFieldConflicts(overlay model.Section, kind string) error {
	required := stringSet(overlay["required_fields"])
	forbidden := stringSet(overlay["forbidden_fields"])
	if len(required) == 0 || len(forbidden) == 0 {
		return nil
	}
	var conflicts []string
	for f := range required {
		if _, ok := forbidden[f]; ok {
			conflicts = append(conflicts, f)
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	sort.Strings(conflicts)
	return werrors.Validation(
		fmt.Sprintf("section %q lists fields as both required and forbidden", kind),
		conflicts,
	)
}

func stringSet(v interface{}) map[string]struct{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]struct{}, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out[s] = struct{}{}
		}
	}
	return out
}
