// Package dataplane implements the request classification surface: it
// accepts form submissions, runs them through the matcher, resolver, and
// profile orchestrator, and renders the decision as JSON plus the X-WAF
// response headers consumed by the fronting stick-table layer.
package dataplane

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/fingerprint"
	"github.com/dobrevit/formwaf/internal/formparse"
	"github.com/dobrevit/formwaf/internal/httputil"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/matcher"
	"github.com/dobrevit/formwaf/internal/metrics"
	"github.com/dobrevit/formwaf/internal/middleware"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/orchestrator"
	"github.com/dobrevit/formwaf/internal/provider"
	"github.com/dobrevit/formwaf/internal/resolver"
)

// Deps bundles the handler's collaborators.
type Deps struct {
	Cache       *cache.Cache
	Resolver    *resolver.Resolver
	Orch        *orchestrator.Orchestrator
	Fingerprint *fingerprint.Evaluator
	Counters    *metrics.Counters
	Webhooks    *provider.WebhookQueue
	Captchas    provider.CaptchaRegistry
	Logger      *logging.Logger
	MaxBody     int64
}

// Handler is the data-plane classification handler.
type Handler struct {
	deps  Deps
	sleep func(time.Duration)
	now   func() time.Time
}

// NewHandler creates the data-plane handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxBody <= 0 {
		deps.MaxBody = formparse.DefaultMaxBodyBytes
	}
	return &Handler{deps: deps, sleep: time.Sleep, now: time.Now}
}

// Router builds the data-plane router with the standard middleware chain.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(h.deps.Logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RequestLogging(h.deps.Logger))
	r.Use(middleware.BodyLimit(h.deps.MaxBody))
	r.PathPrefix("/").Handler(h)
	return r
}

// ServeHTTP classifies one request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Cache.Snapshot()
	clientIP := net.ParseIP(httputil.ClientIP(r))

	m := matcher.Match(snap, r.Host, r.URL.Path, r.Method)
	eff := h.deps.Resolver.Resolve(snap, m.Vhost, m.Endpoint)

	state := &requestState{
		snap:     snap,
		match:    m,
		eff:      eff,
		clientIP: clientIP,
	}

	// Passthrough short-circuits everything; only skipped_requests moves.
	if eff.SkipWAF {
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterSkippedRequests)
		h.respond(w, r, state, &decision{
			Action:     model.ActionAllow,
			SkipWAF:    true,
			SkipReason: eff.SkipReason,
		})
		return
	}

	h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterTotalRequests)

	form, err := formparse.Parse(r, formparse.Options{MaxBodyBytes: h.deps.MaxBody})
	if err != nil {
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterValidationErrors)
		state.flags = append(state.flags, "form:invalid")
		form = &formparse.Form{Fields: map[string]string{}}
	}
	state.form = form
	if len(form.Fields) > 0 {
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterFormSubmissions)
	}

	if !snap.Warm {
		state.flags = append(state.flags, "warmup")
	}

	state.formHash = fingerprint.FormHash(form.Fields)
	state.fp = fingerprint.Compute(r.Header, model.FingerprintHeaders{Normalize: true}, form.FieldNames())

	// Fingerprint profiles run before the defense graphs.
	if d, done := h.evaluateFingerprint(state, r); done {
		h.finish(w, r, state, d)
		return
	}

	req := &dagnode.RequestContext{
		Host:        r.Host,
		Path:        r.URL.Path,
		Method:      r.Method,
		ClientIP:    clientIP,
		Headers:     r.Header,
		Fields:      form.Fields,
		JSONBody:    form.JSON,
		FormHash:    state.formHash,
		Fingerprint: state.fp,
		ReceivedAt:  h.now(),
		VhostID:     m.VhostID,
		EndpointID:  m.EndpointID,
		Snapshot:    snap,
		Effective:   eff,
	}

	out := h.deps.Orch.Evaluate(r.Context(), snap, eff, req)

	d := &decision{
		Action:          out.Action,
		Score:           out.Score + state.fpScore,
		Reason:          out.Reason,
		CaptchaProvider: out.CaptchaProvider,
		DelaySeconds:    out.DelaySeconds,
		Flags:           append(state.flags, out.Flags...),
	}
	h.finish(w, r, state, d)
}

// requestState carries per-request data between stages.
type requestState struct {
	snap     *cache.Snapshot
	match    matcher.Result
	eff      *resolver.Effective
	form     *formparse.Form
	clientIP net.IP
	formHash string
	fp       string
	flags    []string
	fpScore  float64
	// rateLimit is the per-fingerprint limit surfaced to the stick table.
	rateLimit *model.FingerprintRateLimit
}

// decision is the resolved outcome before rendering.
type decision struct {
	Action          model.Action
	Score           float64
	Reason          string
	CaptchaProvider string
	DelaySeconds    float64
	Flags           []string
	SkipWAF         bool
	SkipReason      string
}

// evaluateFingerprint applies the fingerprint profile chain. A block
// decision ends classification early; flag contributes score and
// continues; allow bypasses the defense graphs.
func (h *Handler) evaluateFingerprint(state *requestState, r *http.Request) (*decision, bool) {
	fpMatch := h.deps.Fingerprint.Evaluate(state.snap.Fingerprints, r.Header)
	if fpMatch == nil {
		return nil, false
	}
	state.rateLimit = fpMatch.RateLimit

	switch fpMatch.Action {
	case model.FingerprintBlock:
		return &decision{
			Action: model.ActionBlock,
			Score:  fpMatch.Score,
			Reason: "fingerprint:" + fpMatch.ProfileID,
			Flags:  append(state.flags, "fingerprint:blocked:"+fpMatch.ProfileID),
		}, true
	case model.FingerprintAllow:
		return &decision{
			Action: model.ActionAllow,
			Flags:  append(state.flags, "fingerprint:allowed:"+fpMatch.ProfileID),
		}, true
	case model.FingerprintFlag:
		state.fpScore = fpMatch.Score
		state.flags = append(state.flags, "fingerprint:flagged:"+fpMatch.ProfileID)
	}
	return nil, false
}

// finish applies mode downgrades, accounting, webhooks, and rendering.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, state *requestState, d *decision) {
	m := state.match

	// Monitoring mode suppresses blocking semantics system-wide.
	monitored := false
	if state.eff.Mode == model.ModeMonitoring && d.Action.Blocking() {
		d.Flags = append(d.Flags, "monitor:would_"+string(d.Action))
		d.Action = model.ActionMonitor
		monitored = true
	}

	switch {
	case monitored:
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterMonitoredRequests)
	case d.Action.Blocking():
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterBlockedRequests)
	default:
		h.deps.Counters.Inc(m.VhostID, m.EndpointID, model.CounterAllowedRequests)
	}
	h.deps.Counters.AddSpamScore(m.VhostID, m.EndpointID, d.Score)

	if h.deps.Webhooks != nil && state.eff.WebhooksEnabled && (d.Action.Blocking() || d.Action == model.ActionFlag || monitored) {
		h.deps.Webhooks.Enqueue(provider.Event{
			Kind:       "decision",
			VhostID:    m.VhostID,
			EndpointID: m.EndpointID,
			Action:     string(d.Action),
			Score:      d.Score,
			ClientIP:   ipString(state.clientIP),
			Timestamp:  h.now().Unix(),
		})
	}

	h.respond(w, r, state, d)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// challengeFor resolves the captcha payload for a provider id.
func (h *Handler) challengeFor(ctx context.Context, providerID string) *provider.Challenge {
	if h.deps.Captchas == nil {
		return &provider.Challenge{Provider: providerID}
	}
	c, ok := h.deps.Captchas.Get(providerID)
	if !ok {
		return &provider.Challenge{Provider: providerID}
	}
	challenge, err := c.Issue(ctx)
	if err != nil {
		// Provider failure is an unknown signal; fall back to a bare
		// challenge descriptor.
		h.deps.Logger.WithComponent("dataplane").WithError(err).Warn("Captcha issue failed")
		return &provider.Challenge{Provider: providerID}
	}
	return challenge
}
