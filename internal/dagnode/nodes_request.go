package dagnode

import (
	"context"
	"strconv"
)

// rateLimiterNode enforces a per-client request budget using the shared
// process-local token buckets. The distributed stick-table in front of the
// WAF consumes the thresholds via response headers; this node is the
// in-process backstop.
type rateLimiterNode struct {
	limiters *Limiters
}

func (n *rateLimiterNode) Kind() string { return "rate_limiter" }

func (n *rateLimiterNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	rpm, ok := cfg.CeilingFloat("requests_per_minute")
	if !ok || rpm <= 0 {
		return ContinueResult(), nil
	}

	keySource := cfg.String("key")
	var clientKey string
	switch keySource {
	case "fingerprint":
		clientKey = req.Fingerprint
	case "form_hash":
		clientKey = req.FormHash
	default:
		if req.ClientIP != nil {
			clientKey = req.ClientIP.String()
		}
	}
	if clientKey == "" {
		return ContinueResult(), nil
	}

	// Buckets are scoped per endpoint so budgets do not bleed across
	// endpoints sharing a client.
	bucket := req.EndpointID + "|" + keySource + "|" + clientKey
	if n.limiters.Allow(bucket, int(rpm)) {
		return ContinueResult(), nil
	}

	return &Result{
		Outcome: OutcomeBlocked,
		Score:   scoreOr(cfg, 70),
		Flags:   []string{"rate_limiter:exceeded"},
		Details: map[string]interface{}{"requests_per_minute": rpm},
	}, nil
}

// timingCheckNode validates the time between form render and submission.
// The render timestamp arrives in the "_waf_ts" field (epoch milliseconds)
// planted by the page; bots submit instantly or not at all.
type timingCheckNode struct{}

func (n *timingCheckNode) Kind() string { return "timing_check" }

func (n *timingCheckNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	minMs, ok := cfg.FloorFloat("min_interaction_time_ms")
	if !ok {
		minMs = float64(req.Effective.MinFormTimeMs)
	}

	res := ContinueResult()

	if cfg.MergedBool("require_mouse_movement") && req.Fields["_waf_mouse"] != "1" {
		res.Score += 20
		res.Flags = append(res.Flags, "timing_check:no_mouse_movement")
	}

	raw := req.Fields["_waf_ts"]
	if raw == "" {
		// No token planted: suspicious but not conclusive.
		res.Score += 10
		res.Flags = append(res.Flags, "timing_check:missing_token")
		return res, nil
	}

	rendered, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		res.Score += 15
		res.Flags = append(res.Flags, "timing_check:invalid_token")
		return res, nil
	}

	elapsedMs := req.ReceivedAt.UnixMilli() - rendered
	if elapsedMs < 0 {
		res.Score += 25
		res.Flags = append(res.Flags, "timing_check:future_token")
		return res, nil
	}
	if float64(elapsedMs) < minMs {
		return &Result{
			Outcome: OutcomeBlocked,
			Score:   scoreOr(cfg, 60),
			Flags:   append(res.Flags, "timing_check:too_fast"),
			Details: map[string]interface{}{"elapsed_ms": elapsedMs},
		}, nil
	}
	if maxMs := float64(req.Effective.MaxFormTimeMs); maxMs > 0 && float64(elapsedMs) > maxMs {
		res.Score += 15
		res.Flags = append(res.Flags, "timing_check:stale_token")
	}
	return res, nil
}

// honeypotNode blocks submissions that filled a field real users never
// see.
type honeypotNode struct{}

func (n *honeypotNode) Kind() string { return "honeypot" }

func (n *honeypotNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	fields := cfg.MergedStringList("honeypot_fields")
	if len(fields) == 0 {
		fields = []string{"website", "url2", "_hp"}
	}
	for _, f := range fields {
		if v, ok := req.Fields[f]; ok && v != "" {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 90),
				Flags:   []string{"honeypot:filled"},
				Details: map[string]interface{}{"field": f},
			}, nil
		}
	}
	return ContinueResult(), nil
}

// hashFilterNode blocks submissions whose form hash is on the blocked
// list, catching exact replays of known spam payloads.
type hashFilterNode struct{}

func (n *hashFilterNode) Kind() string { return "hash_filter" }

func (n *hashFilterNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	if req.FormHash == "" {
		return ContinueResult(), nil
	}
	if _, ok := req.Snapshot.BlockedHashes[req.FormHash]; ok {
		return &Result{
			Outcome: OutcomeBlocked,
			Score:   scoreOr(cfg, 100),
			Flags:   []string{"hash_filter:blocked"},
			Details: map[string]interface{}{"form_hash": req.FormHash},
		}, nil
	}
	for _, h := range cfg.MergedStringList("blocked_hashes") {
		if h == req.FormHash {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 100),
				Flags:   []string{"hash_filter:blocked"},
				Details: map[string]interface{}{"form_hash": req.FormHash},
			}, nil
		}
	}
	return ContinueResult(), nil
}
