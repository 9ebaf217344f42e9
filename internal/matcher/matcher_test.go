package matcher

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/model"
)

func strPtr(s string) *string { return &s }

func buildSnapshot() *cache.Snapshot {
	s := cache.NewSnapshot()

	vhosts := []*model.Vhost{
		{ID: "default", Hostnames: nil, Priority: 1000, Enabled: true},
		{ID: "example-com", Hostnames: []string{"example.com"}, Priority: 10, Enabled: true},
		{ID: "example-wild", Hostnames: []string{"*.example.com"}, Priority: 20, Enabled: true},
		{ID: "api-positional", Hostnames: []string{"api.*.example.com"}, Priority: 20, Enabled: true},
		{ID: "catch-all", Hostnames: []string{"_"}, Priority: 500, Enabled: true},
		{ID: "disabled", Hostnames: []string{"example.com"}, Priority: 1, Enabled: false},
	}
	for _, v := range vhosts {
		s.Vhosts[v.ID] = v
		s.VhostList = append(s.VhostList, v)
	}

	endpoints := []*model.Endpoint{
		{
			ID: "contact", VhostID: strPtr("example-com"), Enabled: true, Priority: 10,
			Match: model.EndpointMatch{Paths: []string{"/contact"}, Methods: []string{"POST"}},
		},
		{
			ID: "api-prefix", VhostID: strPtr("example-com"), Enabled: true, Priority: 10,
			Match: model.EndpointMatch{PathPrefix: "/api/", Methods: []string{"*"}},
		},
		{
			ID: "api-v2-prefix", VhostID: strPtr("example-com"), Enabled: true, Priority: 50,
			Match: model.EndpointMatch{PathPrefix: "/api/v2/", Methods: []string{"*"}},
		},
		{
			ID: "forms-regex", VhostID: strPtr("example-com"), Enabled: true, Priority: 10,
			Match: model.EndpointMatch{PathRegex: `^/forms/[0-9]+$`, Methods: []string{"POST"}},
		},
		{
			ID: "health-global", Enabled: true, Priority: 10,
			Match: model.EndpointMatch{Paths: []string{"/health"}, Methods: []string{"*"}},
		},
	}
	for _, e := range endpoints {
		s.Endpoints[e.ID] = e
		if e.VhostID != nil {
			s.VhostEndpoints[*e.VhostID] = append(s.VhostEndpoints[*e.VhostID], e)
		} else {
			s.GlobalEndpoints = append(s.GlobalEndpoints, e)
		}
		if e.Match.PathRegex != "" {
			s.EndpointRegex[e.ID] = regexp.MustCompile(e.Match.PathRegex)
		}
	}

	return s
}

func TestMatch_HostClasses(t *testing.T) {
	s := buildSnapshot()

	tests := []struct {
		name      string
		host      string
		wantVhost string
		wantType  model.HostMatchType
	}{
		{"exact beats wildcard", "example.com", "example-com", model.HostMatchExact},
		{"exact case-insensitive", "EXAMPLE.COM", "example-com", model.HostMatchExact},
		{"exact with port", "example.com:8443", "example-com", model.HostMatchExact},
		{"label wildcard", "www.example.com", "example-wild", model.HostMatchWildcard},
		{"label wildcard deep", "a.b.example.com", "example-wild", model.HostMatchWildcard},
		{"positional loses to label wildcard", "api.staging.example.com", "example-wild", model.HostMatchWildcard},
		{"catch-all", "unrelated.net", "catch-all", model.HostMatchCatchAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(s, tt.host, "/", "GET")
			assert.Equal(t, tt.wantVhost, res.VhostID)
			assert.Equal(t, tt.wantType, res.VhostMatch)
		})
	}
}

func TestMatch_LabelWildcardNeedsExtraLabel(t *testing.T) {
	s := cache.NewSnapshot()
	v := &model.Vhost{ID: "wild", Hostnames: []string{"*.example.com"}, Priority: 1, Enabled: true}
	s.Vhosts[v.ID] = v
	s.VhostList = append(s.VhostList, v)

	// The bare suffix does not match a label wildcard.
	res := Match(s, "example.com", "/", "GET")
	assert.Empty(t, res.VhostID)
	assert.Equal(t, model.HostMatchDefault, res.VhostMatch)
}

func TestMatch_PositionalWildcard(t *testing.T) {
	s := cache.NewSnapshot()
	v := &model.Vhost{ID: "pos", Hostnames: []string{"api.*.example.com"}, Priority: 1, Enabled: true}
	s.Vhosts[v.ID] = v
	s.VhostList = append(s.VhostList, v)

	assert.Equal(t, "pos", Match(s, "api.staging.example.com", "/", "GET").VhostID)
	// One * matches exactly one label.
	assert.Empty(t, Match(s, "api.a.b.example.com", "/", "GET").VhostID)
	assert.Empty(t, Match(s, "api.example.com", "/", "GET").VhostID)
}

func TestMatch_FallsBackToDefaultVhost(t *testing.T) {
	s := cache.NewSnapshot()
	def := &model.Vhost{ID: "default", Priority: 1000, Enabled: true}
	s.Vhosts[def.ID] = def
	s.VhostList = append(s.VhostList, def)

	res := Match(s, "anything.net", "/", "GET")
	assert.Equal(t, "default", res.VhostID)
	assert.Equal(t, model.HostMatchDefault, res.VhostMatch)
}

func TestMatch_PriorityBreaksTiesWithinClass(t *testing.T) {
	s := cache.NewSnapshot()
	for _, v := range []*model.Vhost{
		{ID: "b-low", Hostnames: []string{"example.com"}, Priority: 5, Enabled: true},
		{ID: "a-high", Hostnames: []string{"example.com"}, Priority: 50, Enabled: true},
	} {
		s.Vhosts[v.ID] = v
		s.VhostList = append(s.VhostList, v)
	}

	assert.Equal(t, "b-low", Match(s, "example.com", "/", "GET").VhostID)
}

func TestMatch_PathClasses(t *testing.T) {
	s := buildSnapshot()

	tests := []struct {
		name         string
		path, method string
		wantEndpoint string
		wantType     model.PathMatchType
	}{
		{"exact path and method", "/contact", "POST", "contact", model.PathMatchExact},
		{"longest prefix wins", "/api/v2/items", "GET", "api-v2-prefix", model.PathMatchPrefix},
		{"shorter prefix", "/api/v1/items", "GET", "api-prefix", model.PathMatchPrefix},
		{"regex class", "/forms/42", "POST", "forms-regex", model.PathMatchRegex},
		{"global scope fallback", "/health", "GET", "health-global", model.PathMatchExact},
		{"nothing matches", "/nowhere", "GET", "default", model.PathMatchSynthetic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(s, "example.com", tt.path, tt.method)
			assert.Equal(t, tt.wantEndpoint, res.EndpointID)
			assert.Equal(t, tt.wantType, res.EndpointMatch)
		})
	}
}

func TestMatch_MethodMismatchStaysInClass(t *testing.T) {
	s := buildSnapshot()

	// /contact with GET misses the exact clause (POST only); no prefix or
	// regex covers it, so the synthetic default is returned rather than a
	// lower class match on a different endpoint.
	res := Match(s, "example.com", "/contact", "GET")
	assert.Equal(t, "default", res.EndpointID)
	assert.Equal(t, model.PathMatchSynthetic, res.EndpointMatch)
}

func TestMatch_Deterministic(t *testing.T) {
	s := buildSnapshot()

	first := Match(s, "www.example.com", "/api/v2/x", "PUT")
	for i := 0; i < 50; i++ {
		res := Match(s, "www.example.com", "/api/v2/x", "PUT")
		assert.Equal(t, first, res)
	}
}
