package dataplane

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/fingerprint"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/metrics"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/orchestrator"
	"github.com/dobrevit/formwaf/internal/pattern"
	"github.com/dobrevit/formwaf/internal/resolver"
	"github.com/dobrevit/formwaf/internal/signature"
)

func strPtr(s string) *string          { return &s }
func modePtr(m model.Mode) *model.Mode { return &m }

// keywordProfile wires honeypot-free keyword filtering into a
// block/allow pair.
func keywordProfile() *model.DefenseProfile {
	return &model.DefenseProfile{
		ID:      "balanced-web",
		Enabled: true,
		Settings: model.ProfileSettings{
			DefaultAction:      model.ActionAllow,
			MaxExecutionTimeMs: 200,
		},
		Graph: model.Graph{Nodes: map[string]*model.Node{
			"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "keywords"}},
			"keywords": {
				ID: "keywords", Kind: model.NodeDefense,
				Defense: &model.DefenseSpec{Kind: "keyword_filter"},
				Outputs: map[string]string{"blocked": "deny", "continue": "permit"},
			},
			"permit": {ID: "permit", Kind: model.NodeAction, Action: &model.ActionSpec{Action: model.ActionAllow}},
			"deny":   {ID: "deny", Kind: model.NodeAction, Action: &model.ActionSpec{Action: model.ActionBlock, Reason: "spam"}},
		}},
	}
}

type env struct {
	handler  *Handler
	cache    *cache.Cache
	counters *metrics.Counters
	slept    *time.Duration
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := logging.New("dataplane-test", "error", "text")
	patterns, err := pattern.NewCache(128)
	require.NoError(t, err)

	registry := dagnode.NewRegistry(dagnode.Deps{Patterns: patterns, Logger: logger})
	merger, err := signature.NewMerger(64)
	require.NoError(t, err)
	res, err := resolver.New(128)
	require.NoError(t, err)

	counters := metrics.NewCounters(nil)
	h := NewHandler(Deps{
		Cache:       cache.New(),
		Resolver:    res,
		Orch:        orchestrator.New(dag.NewExecutor(registry, logger), merger, logger),
		Fingerprint: fingerprint.NewEvaluator(patterns),
		Counters:    counters,
		Logger:      logger,
	})

	e := &env{handler: h, cache: h.deps.Cache, counters: counters, slept: new(time.Duration)}
	h.sleep = func(d time.Duration) { *e.slept = d }
	return e
}

// seedSnapshot installs a warm snapshot: vhost example.com, endpoint
// /contact POST bound to the keyword profile, "viagra" blocked globally.
func (e *env) seedSnapshot(mutate func(*cache.Snapshot)) {
	s := cache.NewSnapshot()
	s.Warm = true

	v := &model.Vhost{ID: "example-com", Hostnames: []string{"example.com"}, Priority: 10, Enabled: true}
	s.Vhosts[v.ID] = v
	s.VhostList = append(s.VhostList, v)

	vhostID := v.ID
	ep := &model.Endpoint{
		ID: "contact", VhostID: &vhostID, Enabled: true, Priority: 10,
		Match: model.EndpointMatch{Paths: []string{"/contact"}, Methods: []string{"POST"}},
		Overrides: &model.LayerConfig{
			DefenseProfiles: []model.ProfileRef{{ProfileID: "balanced-web", Weight: 1}},
		},
	}
	s.Endpoints[ep.ID] = ep
	s.VhostEndpoints[v.ID] = append(s.VhostEndpoints[v.ID], ep)

	s.Profiles["balanced-web"] = keywordProfile()
	s.BlockedKeywords["viagra"] = struct{}{}

	if mutate != nil {
		mutate(s)
	}
	e.cache.Swap(s)
}

func postForm(e *env, host, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "http://"+host+path, strings.NewReader(body))
	r.Host = host
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.RemoteAddr = "203.0.113.7:51000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func TestServeHTTP_BlockedKeywordEndToEnd(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(nil)

	w := postForm(e, "example.com", "/contact", "message=buy%20viagra")

	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Blocked"))
	assert.Contains(t, w.Header().Get("X-WAF-Spam-Flags"), "keyword_filter:blocked")
	assert.Equal(t, "example-com", w.Header().Get("X-WAF-Vhost"))
	assert.Equal(t, "contact", w.Header().Get("X-WAF-Endpoint"))
	assert.NotEmpty(t, w.Header().Get("X-WAF-Form-Hash"))

	counts := e.counters.PerEndpoint("example-com", "contact")
	assert.Equal(t, 1.0, counts["total_requests"])
	assert.Equal(t, 1.0, counts["blocked_requests"])
}

func TestServeHTTP_CleanSubmissionAllowed(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(nil)

	w := postForm(e, "example.com", "/contact", "message=hello%20there")

	assert.Equal(t, 200, w.Code)
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "allow", resp.Action)
	assert.Equal(t, "contact", resp.EndpointID)
	assert.Equal(t, "203.0.113.7", resp.ClientIP)

	counts := e.counters.PerEndpoint("example-com", "contact")
	assert.Equal(t, 1.0, counts["allowed_requests"])
	assert.Equal(t, 1.0, counts["form_submissions"])
}

func TestServeHTTP_PassthroughShortCircuit(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(func(s *cache.Snapshot) {
		health := &model.Endpoint{
			ID: "health", Enabled: true, Priority: 1,
			Match:     model.EndpointMatch{Paths: []string{"/health"}, Methods: []string{"*"}},
			Overrides: &model.LayerConfig{Mode: modePtr(model.ModePassthrough)},
		}
		s.Endpoints[health.ID] = health
		s.GlobalEndpoints = append(s.GlobalEndpoints, health)
	})

	w := postForm(e, "example.com", "/health", "message=buy%20viagra")

	assert.Equal(t, 200, w.Code)
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "allow", resp.Action)
	assert.True(t, resp.SkipWAF)
	assert.Equal(t, "mode:passthrough", resp.SkipReason)

	// Only skipped_requests moves.
	counts := e.counters.PerEndpoint("example-com", "health")
	assert.Equal(t, 1.0, counts["skipped_requests"])
	assert.Zero(t, counts["total_requests"])
	assert.Zero(t, counts["blocked_requests"])
}

func TestServeHTTP_WarmupFlagBeforeFirstSync(t *testing.T) {
	e := newEnv(t)
	// No snapshot swap: cold cache.

	w := postForm(e, "example.com", "/contact", "message=hi")

	assert.Equal(t, 200, w.Code)
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "allow", resp.Action)
	assert.Contains(t, resp.Flags, "warmup")
	assert.Equal(t, "default", resp.EndpointID)
}

func TestServeHTTP_MonitoringModeDowngradesBlock(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(func(s *cache.Snapshot) {
		s.Endpoints["contact"].Overrides.Mode = modePtr(model.ModeMonitoring)
	})

	w := postForm(e, "example.com", "/contact", "message=buy%20viagra")

	assert.Equal(t, 200, w.Code)
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "monitor", resp.Action)
	assert.Contains(t, resp.Flags, "monitor:would_block")

	counts := e.counters.PerEndpoint("example-com", "contact")
	assert.Equal(t, 1.0, counts["monitored_requests"])
	assert.Zero(t, counts["blocked_requests"])
}

func TestServeHTTP_TarpitDelaysThenBlocks(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(func(s *cache.Snapshot) {
		p := s.Profiles["balanced-web"]
		p.Graph.Nodes["deny"].Action = &model.ActionSpec{Action: model.ActionTarpit, DelaySeconds: 6}
	})

	w := postForm(e, "example.com", "/contact", "message=buy%20viagra")

	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Blocked"))
	assert.Equal(t, 6*time.Second, *e.slept)
}

func TestServeHTTP_CaptchaChallengePayload(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(func(s *cache.Snapshot) {
		p := s.Profiles["balanced-web"]
		p.Graph.Nodes["deny"].Action = &model.ActionSpec{Action: model.ActionCaptcha, Provider: "turnstile"}
	})

	w := postForm(e, "example.com", "/contact", "message=buy%20viagra")

	assert.Equal(t, 200, w.Code)
	var resp DecisionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "captcha", resp.Action)
	require.NotNil(t, resp.Challenge)
	assert.Equal(t, "turnstile", resp.Challenge.Provider)
}

func TestServeHTTP_FingerprintBlockRunsBeforeProfiles(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(func(s *cache.Snapshot) {
		s.Fingerprints = []*model.FingerprintProfile{{
			ID:     "curl-block",
			Action: model.FingerprintBlock,
			Score:  95,
			Match: model.FingerprintMatch{
				Mode:       "all",
				Conditions: []model.HeaderCondition{{Header: "User-Agent", Verb: model.CondMatches, Pattern: "^curl"}},
			},
		}}
	})

	r := httptest.NewRequest("POST", "http://example.com/contact", strings.NewReader("message=hello"))
	r.Host = "example.com"
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("User-Agent", "curl/8.0")
	r.RemoteAddr = "203.0.113.7:51000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)

	assert.Equal(t, 403, w.Code)
	assert.Contains(t, w.Header().Get("X-WAF-Spam-Flags"), "fingerprint:blocked:curl-block")
}

func TestServeHTTP_MethodMismatchUsesSyntheticEndpoint(t *testing.T) {
	e := newEnv(t)
	e.seedSnapshot(nil)

	r := httptest.NewRequest("GET", "http://example.com/contact", nil)
	r.Host = "example.com"
	r.RemoteAddr = "203.0.113.7:51000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "default", w.Header().Get("X-WAF-Endpoint"))
}
