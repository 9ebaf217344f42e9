// Package matcher resolves (host, path, method) to a (vhost, endpoint)
// pair. Matching is pure over a cache snapshot: the same snapshot and
// inputs always produce the same result.
package matcher

import (
	"sort"
	"strings"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/model"
)

// Result is the outcome of one match.
type Result struct {
	VhostID       string
	VhostMatch    model.HostMatchType
	Vhost         *model.Vhost // nil when even the default vhost is absent
	EndpointID    string
	EndpointMatch model.PathMatchType
	Endpoint      *model.Endpoint // synthetic when nothing matched
}

// Match resolves the request's vhost and endpoint against the snapshot.
func Match(snap *cache.Snapshot, host, path, method string) Result {
	host = normalizeHost(host)
	method = strings.ToUpper(method)

	vhost, matchType := matchVhost(snap, host)

	res := Result{
		VhostMatch: matchType,
		Vhost:      vhost,
	}
	if vhost != nil {
		res.VhostID = vhost.ID
	}

	// Vhost scope first, then global scope.
	if vhost != nil {
		if ep, mt := matchEndpoints(snap, snap.VhostEndpoints[vhost.ID], path, method); ep != nil {
			res.Endpoint, res.EndpointID, res.EndpointMatch = ep, ep.ID, mt
			return res
		}
	}
	if ep, mt := matchEndpoints(snap, snap.GlobalEndpoints, path, method); ep != nil {
		res.Endpoint, res.EndpointID, res.EndpointMatch = ep, ep.ID, mt
		return res
	}

	// No configured endpoint: the synthetic default inherits only the
	// global layer.
	synthetic := model.SyntheticEndpoint()
	res.Endpoint, res.EndpointID, res.EndpointMatch = synthetic, synthetic.ID, model.PathMatchSynthetic
	return res
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	// Strip a port if present.
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i+1:], "]") {
		if !strings.Contains(host, "]") || strings.HasSuffix(host[:i], "]") {
			host = host[:i]
		}
	}
	return strings.TrimSuffix(host, ".")
}

// vhostCandidate is one pattern match inside a host class.
type vhostCandidate struct {
	vhost    *model.Vhost
	priority int
}

// matchVhost resolves the host through the four ordered classes: exact,
// label wildcard, positional wildcard, catch-all. The first class with any
// match wins; priority then id break ties within a class.
func matchVhost(snap *cache.Snapshot, host string) (*model.Vhost, model.HostMatchType) {
	var exact, label, positional, catchAll []vhostCandidate

	for _, v := range snap.VhostList {
		if !v.Enabled {
			continue
		}
		for _, pattern := range v.Hostnames {
			p := strings.ToLower(pattern)
			switch classifyHostPattern(p) {
			case model.HostMatchExact:
				if p == host {
					exact = append(exact, vhostCandidate{v, v.Priority})
				}
			case model.HostMatchWildcard:
				if matchLabelWildcard(p, host) {
					label = append(label, vhostCandidate{v, v.Priority})
				}
			case model.HostMatchPositional:
				if matchPositional(p, host) {
					positional = append(positional, vhostCandidate{v, v.Priority})
				}
			case model.HostMatchCatchAll:
				catchAll = append(catchAll, vhostCandidate{v, v.Priority})
			}
		}
	}

	for _, class := range []struct {
		candidates []vhostCandidate
		matchType  model.HostMatchType
	}{
		{exact, model.HostMatchExact},
		{label, model.HostMatchWildcard},
		{positional, model.HostMatchPositional},
		{catchAll, model.HostMatchCatchAll},
	} {
		if len(class.candidates) > 0 {
			return pickVhost(class.candidates), class.matchType
		}
	}

	// Fall through to the default vhost.
	if def, ok := snap.Vhosts[model.DefaultVhostID]; ok {
		return def, model.HostMatchDefault
	}
	return nil, model.HostMatchDefault
}

func classifyHostPattern(p string) model.HostMatchType {
	if model.IsCatchAll(p) {
		return model.HostMatchCatchAll
	}
	if !strings.Contains(p, "*") {
		return model.HostMatchExact
	}
	// "*.suffix" with no further wildcards is a label wildcard; any other
	// placement is positional.
	if strings.HasPrefix(p, "*.") && !strings.Contains(p[2:], "*") {
		return model.HostMatchWildcard
	}
	return model.HostMatchPositional
}

// matchLabelWildcard matches "*.suffix" against any hostname whose
// rightmost labels equal suffix and which has at least one extra leading
// label.
func matchLabelWildcard(pattern, host string) bool {
	suffix := pattern[2:]
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}
	return len(host) > len(suffix)+1
}

// matchPositional segments both strings on "." and compares per label;
// each "*" matches exactly one label.
func matchPositional(pattern, host string) bool {
	pl := strings.Split(pattern, ".")
	hl := strings.Split(host, ".")
	if len(pl) != len(hl) {
		return false
	}
	for i := range pl {
		if pl[i] != "*" && pl[i] != hl[i] {
			return false
		}
	}
	return true
}

// pickVhost selects the candidate with the lowest priority, breaking ties
// by id ascending.
func pickVhost(candidates []vhostCandidate) *model.Vhost {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].vhost.ID < candidates[j].vhost.ID
	})
	return candidates[0].vhost
}

// endpointCandidate is one clause match inside a path class.
type endpointCandidate struct {
	endpoint  *model.Endpoint
	prefixLen int
}

// matchEndpoints searches one scope's endpoint set through the three
// priority classes: exact path:METHOD, longest prefix, regex in declaration
// order. A method mismatch inside a class tries the next candidate within
// the class; it does not advance the class.
func matchEndpoints(snap *cache.Snapshot, endpoints []*model.Endpoint, path, method string) (*model.Endpoint, model.PathMatchType) {
	var exact []endpointCandidate
	var prefix []endpointCandidate

	for _, e := range endpoints {
		if !e.Enabled {
			continue
		}
		for _, p := range e.Match.Paths {
			if p == path && e.Match.MatchesMethod(method) {
				exact = append(exact, endpointCandidate{endpoint: e})
				break
			}
		}
		if e.Match.PathPrefix != "" && strings.HasPrefix(path, e.Match.PathPrefix) && e.Match.MatchesMethod(method) {
			prefix = append(prefix, endpointCandidate{endpoint: e, prefixLen: len(e.Match.PathPrefix)})
		}
	}

	if len(exact) > 0 {
		sort.SliceStable(exact, func(i, j int) bool {
			if exact[i].endpoint.Priority != exact[j].endpoint.Priority {
				return exact[i].endpoint.Priority < exact[j].endpoint.Priority
			}
			return exact[i].endpoint.ID < exact[j].endpoint.ID
		})
		return exact[0].endpoint, model.PathMatchExact
	}

	if len(prefix) > 0 {
		sort.SliceStable(prefix, func(i, j int) bool {
			if prefix[i].prefixLen != prefix[j].prefixLen {
				return prefix[i].prefixLen > prefix[j].prefixLen
			}
			if prefix[i].endpoint.Priority != prefix[j].endpoint.Priority {
				return prefix[i].endpoint.Priority < prefix[j].endpoint.Priority
			}
			return prefix[i].endpoint.ID < prefix[j].endpoint.ID
		})
		return prefix[0].endpoint, model.PathMatchPrefix
	}

	// Regex class, in declaration order.
	for _, e := range endpoints {
		if !e.Enabled || e.Match.PathRegex == "" {
			continue
		}
		re, ok := snap.EndpointRegex[e.ID]
		if !ok {
			continue
		}
		if re.MatchString(path) && e.Match.MatchesMethod(method) {
			return e, model.PathMatchRegex
		}
	}

	return nil, ""
}
