// Package fingerprint computes submission fingerprints and evaluates
// fingerprint profiles, the early header-based classifier that runs before
// the defense graphs.
package fingerprint

import (
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/pattern"
)

// FormHash hashes the sorted field name/value pairs of a submission.
// Identical submissions produce identical hashes regardless of field
// order, which is what the hash-rate stick-table keys on.
func FormHash(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	h, _ := blake2b.New256(nil)
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compute derives the submission fingerprint from the selected headers and,
// optionally, the submitted field names.
func Compute(headers http.Header, sel model.FingerprintHeaders, fieldNames []string) string {
	selected := sel.Headers
	if len(selected) == 0 {
		selected = []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"}
	}

	h, _ := blake2b.New256(nil)
	for _, name := range selected {
		v := headers.Get(name)
		if sel.Normalize {
			v = strings.ToLower(strings.TrimSpace(v))
		}
		if sel.MaxLength > 0 && len(v) > sel.MaxLength {
			v = v[:sel.MaxLength]
		}
		h.Write([]byte(strings.ToLower(name)))
		h.Write([]byte{0})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	if sel.IncludeFieldNames {
		sorted := append([]string(nil), fieldNames...)
		sort.Strings(sorted)
		for _, f := range sorted {
			h.Write([]byte(f))
			h.Write([]byte{1})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Match is the outcome of evaluating the fingerprint profile chain.
type Match struct {
	ProfileID string
	Action    model.FingerprintAction
	Score     float64
	RateLimit *model.FingerprintRateLimit
}

// Evaluator matches fingerprint profiles against request headers.
type Evaluator struct {
	patterns *pattern.Cache
}

// NewEvaluator creates an evaluator sharing the given pattern cache.
func NewEvaluator(patterns *pattern.Cache) *Evaluator {
	return &Evaluator{patterns: patterns}
}

// Evaluate walks the priority-ordered profiles and returns the first
// non-ignore match, or nil when nothing matched.
func (e *Evaluator) Evaluate(profiles []*model.FingerprintProfile, headers http.Header) *Match {
	for _, p := range profiles {
		if !e.matchProfile(p, headers) {
			continue
		}
		if p.Action == model.FingerprintIgnore {
			continue
		}
		return &Match{
			ProfileID: p.ID,
			Action:    p.Action,
			Score:     p.Score,
			RateLimit: p.RateLimit,
		}
	}
	return nil
}

func (e *Evaluator) matchProfile(p *model.FingerprintProfile, headers http.Header) bool {
	if len(p.Match.Conditions) == 0 {
		return false
	}
	anyMode := strings.EqualFold(p.Match.Mode, "any")

	for _, cond := range p.Match.Conditions {
		ok := e.matchCondition(cond, headers)
		if anyMode && ok {
			return true
		}
		if !anyMode && !ok {
			return false
		}
	}
	return !anyMode
}

func (e *Evaluator) matchCondition(cond model.HeaderCondition, headers http.Header) bool {
	value := headers.Get(cond.Header)
	present := value != ""

	switch cond.Verb {
	case model.CondPresent:
		return present
	case model.CondAbsent:
		return !present
	case model.CondMatches, model.CondNotMatches:
		if !present {
			return cond.Verb == model.CondNotMatches
		}
		p, err := e.patterns.Get(cond.Pattern)
		if err != nil {
			// An uncompilable pattern skips the condition rather than
			// aborting classification.
			return cond.Verb == model.CondNotMatches
		}
		matched := p.Match(value)
		if cond.Verb == model.CondMatches {
			return matched
		}
		return !matched
	default:
		return false
	}
}
