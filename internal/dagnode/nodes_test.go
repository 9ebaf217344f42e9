package dagnode

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/pattern"
	"github.com/dobrevit/formwaf/internal/resolver"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	patterns, err := pattern.NewCache(128)
	require.NoError(t, err)
	return Deps{
		Patterns: patterns,
		Limiters: NewLimiters(0),
		Logger:   logging.New("dagnode-test", "error", "text"),
	}
}

func testRequest() *RequestContext {
	eff := resolver.Defaults()
	return &RequestContext{
		Host:       "example.com",
		Path:       "/contact",
		Method:     "POST",
		ClientIP:   net.ParseIP("203.0.113.7"),
		Headers:    http.Header{},
		Fields:     map[string]string{},
		ReceivedAt: time.Now(),
		EndpointID: "contact",
		Snapshot:   cache.NewSnapshot(),
		Effective:  &eff,
	}
}

func TestKeywordFilter_BlockedKeyword(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, ok := r.Get("keyword_filter")
	require.True(t, ok)

	req := testRequest()
	req.Snapshot.BlockedKeywords["viagra"] = struct{}{}
	req.Fields["message"] = "buy VIAGRA now"

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Contains(t, res.Flags, "keyword_filter:blocked")
}

func TestKeywordFilter_FlaggedAccumulatesScore(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("keyword_filter")

	req := testRequest()
	req.Snapshot.FlaggedKeywords["casino"] = 25
	req.Snapshot.FlaggedKeywords["lottery"] = 10
	req.Fields["message"] = "casino and lottery tonight"

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, 35.0, res.Score)
	assert.Len(t, res.Flags, 2)
}

func TestKeywordFilter_OverlayPatterns(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("keyword_filter")

	req := testRequest()
	req.Fields["message"] = "visit http://spam.example"

	cfg := Config{
		OverlayKey: map[string]interface{}{
			"flagged_patterns": []interface{}{
				map[string]interface{}{"pattern": "http://", "score": 12.0},
			},
		},
	}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, 12.0, res.Score)
	assert.Contains(t, res.Flags, "keyword_filter:pattern")
}

func TestUserAgentFilter(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("useragent_filter")

	req := testRequest()
	req.Headers.Set("User-Agent", "EvilBot/1.0")

	cfg := Config{"blocked_user_agents": []interface{}{"evilbot"}}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)

	// Missing UA with the requirement flag set in the overlay.
	req2 := testRequest()
	cfg2 := Config{OverlayKey: map[string]interface{}{"require_user_agent": true}}
	res2, err := h.Evaluate(context.Background(), req2, cfg2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res2.Outcome)
	assert.Contains(t, res2.Flags, "useragent_filter:missing")
}

func TestRateLimiter_Exceeds(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("rate_limiter")

	req := testRequest()
	cfg := Config{"requests_per_minute": 3.0}

	blocked := 0
	for i := 0; i < 5; i++ {
		res, err := h.Evaluate(context.Background(), req, cfg)
		require.NoError(t, err)
		if res.Blocked() {
			blocked++
		}
	}
	// The burst is the per-minute budget; the 4th and 5th calls exceed it.
	assert.Equal(t, 2, blocked)
}

func TestRateLimiter_CeilingFromOverlay(t *testing.T) {
	req := testRequest()
	cfg := Config{
		"requests_per_minute": 60.0,
		OverlayKey:            map[string]interface{}{"requests_per_minute": 25.0},
	}
	rpm, ok := cfg.CeilingFloat("requests_per_minute")
	require.True(t, ok)
	assert.Equal(t, 25.0, rpm)
	_ = req
}

func TestTimingCheck_TooFast(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("timing_check")

	req := testRequest()
	req.Fields["_waf_ts"] = "0"
	req.ReceivedAt = time.UnixMilli(500) // 500ms after render

	cfg := Config{"min_interaction_time_ms": 2000.0}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Contains(t, res.Flags, "timing_check:too_fast")
}

func TestTimingCheck_FloorTakesMaximum(t *testing.T) {
	cfg := Config{
		"min_interaction_time_ms": 1000.0,
		OverlayKey:                map[string]interface{}{"min_interaction_time_ms": 3000.0},
	}
	v, ok := cfg.FloorFloat("min_interaction_time_ms")
	require.True(t, ok)
	assert.Equal(t, 3000.0, v)
}

func TestHoneypot(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("honeypot")

	req := testRequest()
	req.Fields["website"] = "http://bot.filled.this"

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Contains(t, res.Flags, "honeypot:filled")
}

func TestHashFilter(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("hash_filter")

	req := testRequest()
	req.FormHash = "abc123"
	req.Snapshot.BlockedHashes["abc123"] = struct{}{}

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
}

func TestIPFilter_Whitelist(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("ip_filter")

	req := testRequest()
	req.Snapshot.SetWhitelist([]string{"203.0.113.0/24"})

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllowed, res.Outcome)
	assert.Contains(t, res.Flags, "ip_filter:whitelisted")
}

type fakeGeoIP struct{ country string; err error }

func (f fakeGeoIP) Country(context.Context, net.IP) (string, error) { return f.country, f.err }

func TestIPFilter_GeoIPBlockedCountry(t *testing.T) {
	deps := testDeps(t)
	deps.GeoIP = fakeGeoIP{country: "KP"}
	r := NewRegistry(deps)
	h, _ := r.Get("ip_filter")

	req := testRequest()
	req.Effective.GeoIPEnabled = true
	req.Effective.BlockedCountries = []string{"kp"}

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Contains(t, res.Flags, "geoip:blocked:KP")
}

func TestIPFilter_ProviderErrorIsUnknownSignal(t *testing.T) {
	deps := testDeps(t)
	deps.GeoIP = fakeGeoIP{err: assert.AnError}
	r := NewRegistry(deps)
	h, _ := r.Get("ip_filter")

	req := testRequest()
	req.Effective.GeoIPEnabled = true
	req.Effective.BlockedCountries = []string{"KP"}

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Contains(t, res.Flags, "geoip:error")
}

func TestScriptNode_BooleanBlock(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("script")

	req := testRequest()
	req.Fields["qty"] = "9999"

	cfg := Config{"source": `parseInt(request.fields.qty) > 1000`}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
}

func TestScriptNode_ObjectResult(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("script")

	req := testRequest()
	cfg := Config{"source": `({block: false, score: 33, flag: "custom"})`}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, 33.0, res.Score)
	assert.Contains(t, res.Flags, "script:custom")
}

func TestScriptNode_ErrorContinues(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("script")

	req := testRequest()
	cfg := Config{"source": `throw new Error("boom")`}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Contains(t, res.Flags, "script:error")
}

func TestScriptNode_TimeoutInterrupts(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("script")

	req := testRequest()
	cfg := Config{"source": `while(true){}`, "timeout_ms": 20.0}

	start := time.Now()
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type captureSink struct {
	endpointID string
	fields     []string
}

func (c *captureSink) Observe(endpointID string, fields []string) {
	c.endpointID = endpointID
	c.fields = fields
}

func TestFieldLearner_Observes(t *testing.T) {
	sink := &captureSink{}
	deps := testDeps(t)
	deps.Learner = sink
	r := NewRegistry(deps)
	h, _ := r.Get("field_learner")

	req := testRequest()
	req.Fields["email"] = "a@b.c"
	req.Fields["message"] = "hi"

	res, err := h.Evaluate(context.Background(), req, Config{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Zero(t, res.Score)
	assert.Equal(t, "contact", sink.endpointID)
	assert.Len(t, sink.fields, 2)
}

func TestFieldLearner_JSONPaths(t *testing.T) {
	sink := &captureSink{}
	deps := testDeps(t)
	deps.Learner = sink
	r := NewRegistry(deps)
	h, _ := r.Get("field_learner")

	req := testRequest()
	req.Fields["contact.email"] = "a@b.c"
	req.JSONBody = map[string]interface{}{
		"contact": map[string]interface{}{"email": "a@b.c"},
	}

	cfg := Config{"json_paths": []interface{}{"$.contact.email", "$.missing.path"}}
	_, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Contains(t, sink.fields, "$.contact.email")
	assert.NotContains(t, sink.fields, "$.missing.path")
}

func TestFieldRules(t *testing.T) {
	r := NewRegistry(testDeps(t))
	h, _ := r.Get("field_rules")

	req := testRequest()
	req.Fields["debug_mode"] = "1"

	cfg := Config{
		"required_fields":  []interface{}{"email"},
		"forbidden_fields": []interface{}{"debug_mode"},
	}
	res, err := h.Evaluate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Contains(t, res.Flags, "field_rules:forbidden:debug_mode")
}
