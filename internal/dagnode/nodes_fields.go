package dagnode

import (
	"context"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/pattern"
)

// fieldRulesNode validates the submission's field shape: required and
// forbidden fields, per-field length caps, and per-field pattern rules.
type fieldRulesNode struct {
	patterns *pattern.Cache
	logger   *logging.Logger
}

func (n *fieldRulesNode) Kind() string { return "field_rules" }

func (n *fieldRulesNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	res := ContinueResult()

	for _, f := range cfg.MergedStringList("required_fields") {
		if v, ok := req.Fields[f]; !ok || strings.TrimSpace(v) == "" {
			res.Score += 15
			res.Flags = append(res.Flags, "field_rules:missing:"+f)
		}
	}

	for _, f := range cfg.MergedStringList("forbidden_fields") {
		if _, ok := req.Fields[f]; ok {
			return &Result{
				Outcome: OutcomeBlocked,
				Score:   scoreOr(cfg, 70),
				Flags:   []string{"field_rules:forbidden:" + f},
			}, nil
		}
	}

	if maxLen, ok := cfg.CeilingFloat("max_field_length"); ok && maxLen > 0 {
		for f, v := range req.Fields {
			if float64(len(v)) > maxLen {
				res.Score += 20
				res.Flags = append(res.Flags, "field_rules:oversize:"+f)
			}
		}
	}

	if maxFields, ok := cfg.CeilingFloat("max_fields"); ok && maxFields > 0 {
		if float64(len(req.Fields)) > maxFields {
			res.Score += 25
			res.Flags = append(res.Flags, "field_rules:too_many_fields")
		}
	}

	// Pattern rules from flagged_patterns apply to every field value, not
	// to a named field; each rule adds its score at most once per request.
	for _, rule := range cfg.MergedPatternRules("flagged_patterns") {
		p, err := n.patterns.Get(rule.Pattern)
		if err != nil {
			if n.logger != nil {
				n.logger.WarnOncePer("pattern:"+rule.Pattern, logSuppressInterval, "Skipping uncompilable field pattern")
			}
			continue
		}
		for _, v := range req.Fields {
			if p.Match(v) {
				res.Score += rule.Score
				res.Flags = append(res.Flags, "field_rules:pattern")
				break
			}
		}
	}

	return res, nil
}

// fieldLearnerNode is the observation node feeding the field learner. It
// never changes score, flags, or decision.
type fieldLearnerNode struct {
	sink FieldSink
}

func (n *fieldLearnerNode) Kind() string { return "field_learner" }

func (n *fieldLearnerNode) Evaluate(_ context.Context, req *RequestContext, cfg Config) (*Result, error) {
	if len(req.Fields) > 0 && sampled(req, cfg) {
		names := make([]string, 0, len(req.Fields))
		for f := range req.Fields {
			names = append(names, f)
		}
		// Learning rules may address nested JSON submissions by path;
		// paths that resolve are recorded alongside the flat field names.
		if req.JSONBody != nil {
			for _, path := range cfg.MergedStringList("json_paths") {
				if v, err := jsonpath.Get(path, req.JSONBody); err == nil && v != nil {
					names = append(names, path)
				}
			}
		}
		n.sink.Observe(req.EndpointID, names)
	}
	return ContinueResult(), nil
}

// sampled applies the configured sample rate deterministically off the
// form hash, keeping the node pure over its inputs.
func sampled(req *RequestContext, cfg Config) bool {
	rate, ok := cfg.Float("sample_rate")
	if !ok || rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	if req.FormHash == "" {
		return true
	}
	var h uint32 = 2166136261
	for i := 0; i < len(req.FormHash); i++ {
		h ^= uint32(req.FormHash[i])
		h *= 16777619
	}
	return float64(h%1000) < rate*1000
}
