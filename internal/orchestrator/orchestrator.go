// Package orchestrator runs an endpoint's defense profiles in parallel and
// aggregates their decisions and scores into one outcome.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/resolver"
	"github.com/dobrevit/formwaf/internal/signature"
)

// configMissingLogInterval bounds per-id dangling-reference warnings.
const configMissingLogInterval = time.Minute

// Outcome is the aggregated result of all profiles and defense lines.
type Outcome struct {
	Action          model.Action
	Score           float64
	Flags           []string
	Reason          string
	CaptchaProvider string
	DelaySeconds    float64
	// Decisions holds every executed profile's decision, base profiles
	// first, defense lines after.
	Decisions []*dag.Decision
}

// Blocking reports whether the aggregate denies the request.
func (o *Outcome) Blocking() bool {
	return o.Action.Blocking()
}

// Orchestrator fans profile execution out and joins the results.
type Orchestrator struct {
	executor *dag.Executor
	merger   *signature.Merger
	logger   *logging.Logger
}

// New creates an orchestrator.
func New(executor *dag.Executor, merger *signature.Merger, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{executor: executor, merger: merger, logger: logger}
}

// Evaluate runs the endpoint's base profiles concurrently under the
// aggregation policy, then evaluates its defense lines. When no profile
// reference resolves, the outcome is allow with zero score.
func (o *Orchestrator) Evaluate(ctx context.Context, snap *cache.Snapshot, eff *resolver.Effective, req *dagnode.RequestContext) *Outcome {
	out := &Outcome{Action: model.ActionAllow}

	refs := append([]model.ProfileRef(nil), eff.DefenseProfiles...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Priority < refs[j].Priority })

	type executed struct {
		ref      model.ProfileRef
		decision *dag.Decision
	}

	var runnable []model.ProfileRef
	for _, ref := range refs {
		profile, ok := snap.Profiles[ref.ProfileID]
		if !ok {
			o.warnMissing("defense profile", ref.ProfileID)
			out.Flags = append(out.Flags, "config_missing:"+ref.ProfileID)
			continue
		}
		if !profile.Enabled {
			continue
		}
		if !snap.ProfileValid(ref.ProfileID) {
			// Invalid profiles never execute; they contribute their
			// default action.
			out.Flags = append(out.Flags, dag.FlagProfileInvalid+":"+ref.ProfileID)
			out.Decisions = append(out.Decisions, &dag.Decision{
				ProfileID: ref.ProfileID,
				Action:    profile.DefaultActionOrAllow(),
				Flags:     []string{dag.FlagProfileInvalid + ":" + ref.ProfileID},
			})
			continue
		}
		runnable = append(runnable, ref)
	}

	policy := eff.Aggregation
	if policy.Decision == "" {
		policy = model.DefaultAggregation()
	}

	// Base profiles run concurrently. Short-circuit under OR cancels the
	// siblings cooperatively once any blocking decision lands.
	results := make([]executed, len(runnable))
	if len(runnable) > 0 {
		runCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		var once sync.Once

		for i, ref := range runnable {
			wg.Add(1)
			go func(i int, ref model.ProfileRef) {
				defer wg.Done()
				profile := snap.Profiles[ref.ProfileID]
				d := o.executor.Execute(runCtx, profile, &profile.Graph, req)
				results[i] = executed{ref: ref, decision: d}

				if policy.ShortCircuit && policy.Decision == model.DecisionOR && d.Blocking() {
					once.Do(cancel)
				}
			}(i, ref)
		}
		wg.Wait()
		cancel()
	}

	var decisions []*dag.Decision
	var weights []float64
	for _, e := range results {
		if e.decision == nil {
			continue
		}
		decisions = append(decisions, e.decision)
		weights = append(weights, e.ref.Weight)
		out.Flags = append(out.Flags, e.decision.Flags...)
	}
	out.Decisions = append(out.Decisions, decisions...)

	aggregateInto(out, decisions, weights, policy)

	o.evaluateDefenseLines(ctx, snap, eff, req, out, policy)
	return out
}

// aggregateInto folds the decisions per the policy.
func aggregateInto(out *Outcome, decisions []*dag.Decision, weights []float64, policy model.AggregationPolicy) {
	if len(decisions) == 0 {
		return
	}

	blockCount := 0
	var first *dag.Decision
	for _, d := range decisions {
		if d.Blocking() {
			blockCount++
			if first == nil {
				first = d
			}
		}
	}

	blocked := false
	switch policy.Decision {
	case model.DecisionAND:
		blocked = blockCount == len(decisions)
	case model.DecisionMajority:
		blocked = blockCount*2 > len(decisions)
	default: // OR, the safety-first default
		blocked = blockCount > 0
	}

	out.Score = aggregateScores(decisions, weights, policy.Score)

	if blocked && first != nil {
		out.Action = first.Action
		out.Reason = first.Reason
		out.CaptchaProvider = first.CaptchaProvider
		out.DelaySeconds = first.DelaySeconds
		return
	}

	// Non-blocking: surface flag/monitor decisions without denying.
	for _, d := range decisions {
		if d.Action == model.ActionFlag || d.Action == model.ActionMonitor {
			out.Action = d.Action
			if out.Reason == "" {
				out.Reason = d.Reason
			}
		}
	}
}

func aggregateScores(decisions []*dag.Decision, weights []float64, mode model.ScoreAggregation) float64 {
	switch mode {
	case model.ScoreSum:
		var sum float64
		for _, d := range decisions {
			sum += d.Score
		}
		return sum
	case model.ScoreWeightedAvg:
		var weightedSum, totalWeight float64
		for i, d := range decisions {
			w := 1.0
			if i < len(weights) && weights[i] > 0 {
				w = weights[i]
			} else if i < len(weights) {
				w = 0
			}
			weightedSum += d.Score * w
			totalWeight += w
		}
		if totalWeight == 0 {
			return aggregateScores(decisions, weights, model.ScoreMax)
		}
		return weightedSum / totalWeight
	default: // MAX
		var max float64
		for i, d := range decisions {
			if i == 0 || d.Score > max {
				max = d.Score
			}
		}
		return max
	}
}

// evaluateDefenseLines runs each defense line after base aggregation: a
// blocking line overrides a non-blocking base result; every line's score is
// added to the outcome score under SUM and folded in by maximum otherwise.
func (o *Orchestrator) evaluateDefenseLines(ctx context.Context, snap *cache.Snapshot, eff *resolver.Effective, req *dagnode.RequestContext, out *Outcome, policy model.AggregationPolicy) {
	for _, line := range eff.DefenseLines {
		profile, ok := snap.Profiles[line.ProfileID]
		if !ok {
			o.warnMissing("defense line profile", line.ProfileID)
			out.Flags = append(out.Flags, "config_missing:"+line.ProfileID)
			continue
		}
		if !profile.Enabled || !snap.ProfileValid(line.ProfileID) {
			if !snap.ProfileValid(line.ProfileID) {
				out.Flags = append(out.Flags, dag.FlagProfileInvalid+":"+line.ProfileID)
			}
			continue
		}

		sigs := make([]*model.AttackSignature, 0, len(line.SignatureIDs))
		for _, sigID := range line.SignatureIDs {
			s, ok := snap.Signatures[sigID]
			if !ok {
				o.warnMissing("attack signature", sigID)
				out.Flags = append(out.Flags, "config_missing:"+sigID)
				continue
			}
			sigs = append(sigs, s)
		}

		graph, err := o.merger.Merge(profile, sigs)
		if err != nil {
			// A conflicting overlay invalidates the line, not the request.
			if o.logger != nil {
				o.logger.WithComponent("orchestrator").WithError(err).WithField("profile_id", line.ProfileID).Warn("Defense line signature merge failed")
			}
			out.Flags = append(out.Flags, "signature_merge_error:"+line.ProfileID)
			continue
		}

		d := o.executor.Execute(ctx, profile, graph, req)
		out.Decisions = append(out.Decisions, d)
		out.Flags = append(out.Flags, d.Flags...)

		if d.Blocking() && !out.Blocking() {
			out.Action = d.Action
			out.Reason = d.Reason
			out.CaptchaProvider = d.CaptchaProvider
			out.DelaySeconds = d.DelaySeconds
		}

		switch policy.Score {
		case model.ScoreSum:
			out.Score += d.Score
		default:
			if d.Score > out.Score {
				out.Score = d.Score
			}
		}
	}
}

func (o *Orchestrator) warnMissing(kind, id string) {
	if o.logger != nil {
		o.logger.WarnOncePer("config_missing:"+kind+":"+id, configMissingLogInterval, "Dangling "+kind+" reference")
	}
}
