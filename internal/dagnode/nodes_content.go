package dagnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/pattern"
)

// keywordFilterNode scans field values against the blocked and flagged
// keyword sets plus any overlaid pattern rules.
type keywordFilterNode struct {
	patterns *pattern.Cache
	logger   *logging.Logger
}

func (n *keywordFilterNode) Kind() string { return "keyword_filter" }

func (n *keywordFilterNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	haystack := fieldsBlob(req.Fields)

	// Blocked keywords: the global cached set plus config/overlay lists.
	for kw := range req.Snapshot.BlockedKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return n.blocked(cfg, kw), nil
		}
	}
	for _, kw := range cfg.MergedStringList("blocked_keywords") {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return n.blocked(cfg, kw), nil
		}
	}

	// Flagged keywords accumulate score without blocking.
	res := ContinueResult()
	for kw, score := range req.Snapshot.FlaggedKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			if score == 0 {
				score = 10
			}
			res.Score += score
			res.Flags = append(res.Flags, "keyword_filter:flagged:"+kw)
		}
	}

	// Pattern rules contribute independently scored matches.
	for _, rule := range cfg.MergedPatternRules("flagged_patterns") {
		p, err := n.patterns.Get(rule.Pattern)
		if err != nil {
			if n.logger != nil {
				n.logger.WarnOncePer("pattern:"+rule.Pattern, logSuppressInterval, "Skipping uncompilable keyword pattern")
			}
			continue
		}
		if p.Match(haystack) {
			res.Score += rule.Score
			res.Flags = append(res.Flags, "keyword_filter:pattern")
		}
	}

	return res, nil
}

func (n *keywordFilterNode) blocked(cfg Config, keyword string) *Result {
	score, ok := cfg.Float("score")
	if !ok {
		score = 100
	}
	return &Result{
		Outcome: OutcomeBlocked,
		Score:   score,
		Flags:   []string{"keyword_filter:blocked"},
		Details: map[string]interface{}{"keyword": keyword},
	}
}

// userAgentFilterNode classifies the User-Agent header.
type userAgentFilterNode struct {
	patterns *pattern.Cache
	logger   *logging.Logger
}

func (n *userAgentFilterNode) Kind() string { return "useragent_filter" }

func (n *userAgentFilterNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	ua := strings.ToLower(req.Headers.Get("User-Agent"))

	if ua == "" {
		if cfg.MergedBool("require_user_agent") {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 60),
				Flags:   []string{"useragent_filter:missing"},
			}, nil
		}
		res := ContinueResult()
		res.Score = 15
		res.Flags = []string{"useragent_filter:missing"}
		return res, nil
	}

	for _, blocked := range cfg.MergedStringList("blocked_user_agents") {
		if strings.Contains(ua, strings.ToLower(blocked)) {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 80),
				Flags:   []string{"useragent_filter:blocked"},
				Details: map[string]interface{}{"user_agent": blocked},
			}, nil
		}
	}

	res := ContinueResult()
	for _, rule := range cfg.MergedPatternRules("flagged_patterns") {
		p, err := n.patterns.Get(rule.Pattern)
		if err != nil {
			if n.logger != nil {
				n.logger.WarnOncePer("pattern:"+rule.Pattern, logSuppressInterval, "Skipping uncompilable user-agent pattern")
			}
			continue
		}
		if p.Match(ua) {
			res.Score += rule.Score
			res.Flags = append(res.Flags, "useragent_filter:pattern")
		}
	}
	return res, nil
}

// fieldsBlob joins all field values into one lowercased haystack.
func fieldsBlob(fields map[string]string) string {
	var b strings.Builder
	for k, v := range fields {
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		b.WriteString(strings.ToLower(v))
		b.WriteByte('\n')
	}
	return b.String()
}

func scoreOr(cfg Config, fallback float64) float64 {
	if s, ok := cfg.Float("score"); ok {
		return s
	}
	return fallback
}

func flagf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
