package dag

import (
	"context"
	"fmt"
	"time"

	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
)

// Flags the executor attaches outside node handlers.
const (
	FlagBudgetWarning  = "budget_exceeded"
	FlagTimeout        = "timeout"
	FlagCycleDetected  = "cycle_detected"
	FlagCancelled      = "cancelled"
	FlagProfileInvalid = "profile_invalid"
	FlagMonitorMode    = "monitor"
)

// defaultBudgetMs applies when a profile sets no execution budget.
const defaultBudgetMs = 1000

// hardCeilingFactor multiplies the soft budget into the abort ceiling.
const hardCeilingFactor = 10

// Decision is the outcome of executing one profile graph.
type Decision struct {
	ProfileID       string
	Action          model.Action
	Reason          string
	Score           float64
	Flags           []string
	DelaySeconds    float64
	CaptchaProvider string
	Elapsed         time.Duration
	// NodeResults caches every node's last result, keyed by node id.
	NodeResults map[string]*dagnode.Result
}

// Blocking reports whether the decision denies the request.
func (d *Decision) Blocking() bool {
	return d.Action.Blocking()
}

// Executor traverses profile graphs. One executor serves every request;
// all per-request state lives on the stack.
type Executor struct {
	registry *dagnode.Registry
	logger   *logging.Logger
	// now is swappable for tests.
	now func() time.Time
}

// NewExecutor creates an executor over the given node registry.
func NewExecutor(registry *dagnode.Registry, logger *logging.Logger) *Executor {
	return &Executor{registry: registry, logger: logger, now: time.Now}
}

// Execute traverses graph from start to a terminal action under the
// profile's wall-clock budget. graph is usually the profile's own graph
// with signature overlays merged in; it is never mutated.
func (e *Executor) Execute(ctx context.Context, profile *model.DefenseProfile, graph *model.Graph, req *dagnode.RequestContext) *Decision {
	started := e.now()
	d := &Decision{
		ProfileID:   profile.ID,
		Action:      profile.DefaultActionOrAllow(),
		NodeResults: make(map[string]*dagnode.Result),
	}

	starts := graph.StartNodes()
	if len(starts) != 1 {
		d.Flags = append(d.Flags, FlagProfileInvalid+":"+profile.ID)
		d.Elapsed = e.now().Sub(started)
		return d
	}

	budgetMs := profile.Settings.MaxExecutionTimeMs
	if budgetMs <= 0 {
		budgetMs = defaultBudgetMs
	}
	softBudget := time.Duration(budgetMs) * time.Millisecond
	hardCeiling := softBudget * hardCeilingFactor
	budgetWarned := false

	visited := make(map[string]int, len(graph.Nodes))
	current := graph.Nodes[starts[0]]

	for {
		// Cooperative cancellation at node boundaries.
		if err := ctx.Err(); err != nil {
			d.Flags = append(d.Flags, FlagCancelled)
			d.Elapsed = e.now().Sub(started)
			return d
		}

		elapsed := e.now().Sub(started)
		if elapsed > hardCeiling {
			d.Action = profile.DefaultActionOrAllow()
			d.Flags = append(d.Flags, FlagTimeout)
			d.Elapsed = elapsed
			return d
		}
		if elapsed > softBudget && !budgetWarned {
			d.Flags = append(d.Flags, FlagBudgetWarning)
			budgetWarned = true
		}

		// Defensive cycle check; the validator rejects cycles but the
		// executor must not trust it with its own termination.
		visited[current.ID]++
		if visited[current.ID] > 1 {
			d.Action = profile.DefaultActionOrAllow()
			d.Flags = append(d.Flags, FlagCycleDetected)
			d.Elapsed = e.now().Sub(started)
			return d
		}

		var label string
		switch current.Kind {
		case model.NodeStart:
			label = ""

		case model.NodeAction:
			e.applyAction(d, current.Action)
			d.Elapsed = e.now().Sub(started)
			return d

		case model.NodeOperator:
			res := e.evalOperator(current, d)
			d.NodeResults[current.ID] = res
			label = res.Outcome

		case model.NodeDefense, model.NodeObservation:
			res := e.evalHandlerNode(ctx, current, req, d)
			d.NodeResults[current.ID] = res
			d.Score += res.Score
			d.Flags = append(d.Flags, res.Flags...)
			label = res.Outcome
		}

		next, ok := followOutput(current, label)
		if !ok {
			// No edge for the produced label: the path terminates via the
			// profile's default action.
			d.Action = profile.DefaultActionOrAllow()
			d.Elapsed = e.now().Sub(started)
			return d
		}
		target, ok := graph.Nodes[next]
		if !ok {
			d.Action = profile.DefaultActionOrAllow()
			d.Flags = append(d.Flags, FlagProfileInvalid+":"+profile.ID)
			d.Elapsed = e.now().Sub(started)
			return d
		}
		current = target
	}
}

// followOutput resolves the next node id for the produced label. An empty
// label (start nodes, observation pass-through) follows "next" then
// "continue" then a sole output.
func followOutput(n *model.Node, label string) (string, bool) {
	if label != "" {
		if target, ok := n.Outputs[label]; ok {
			return target, true
		}
		if label == dagnode.OutcomeContinue {
			// A continue outcome may ride the "next" edge.
			if target, ok := n.Outputs["next"]; ok {
				return target, true
			}
		}
		return "", false
	}

	if target, ok := n.Outputs["next"]; ok {
		return target, true
	}
	if target, ok := n.Outputs[dagnode.OutcomeContinue]; ok {
		return target, true
	}
	if len(n.Outputs) == 1 {
		for _, target := range n.Outputs {
			return target, true
		}
	}
	return "", false
}

func (e *Executor) evalHandlerNode(ctx context.Context, n *model.Node, req *dagnode.RequestContext, d *Decision) *dagnode.Result {
	var kind string
	var cfg dagnode.Config
	switch n.Kind {
	case model.NodeDefense:
		kind = n.Defense.Kind
		cfg = dagnode.Config(n.Defense.Config)
	case model.NodeObservation:
		kind = n.Observation.Kind
		cfg = dagnode.Config(n.Observation.Config)
	}

	handler, ok := e.registry.Get(kind)
	if !ok {
		if e.logger != nil {
			e.logger.WarnOncePer("node_kind:"+kind, 5*time.Minute, "No handler registered for node kind")
		}
		res := dagnode.ContinueResult()
		res.Flags = []string{fmt.Sprintf("unknown_node_kind:%s", kind)}
		return res
	}

	res, err := handler.Evaluate(ctx, req, cfg)
	if err != nil {
		// A failing handler never propagates to the client; the node
		// contributes nothing and traversal continues.
		if e.logger != nil {
			e.logger.WithComponent("dag").WithError(err).WithField("node_id", n.ID).Warn("Node handler failed")
		}
		res = dagnode.ContinueResult()
		res.Flags = []string{fmt.Sprintf("node_error:%s", n.ID)}
	}
	if res == nil {
		res = dagnode.ContinueResult()
	}

	// Observation nodes never alter score, flags, or decision.
	if n.Kind == model.NodeObservation {
		clean := dagnode.ContinueResult()
		clean.Details = res.Details
		return clean
	}
	return res
}

// evalOperator computes an operator node from its cached predecessor
// results. Inputs that never executed contribute a zero result.
func (e *Executor) evalOperator(n *model.Node, d *Decision) *dagnode.Result {
	op := n.Operator
	res := &dagnode.Result{Outcome: "next"}

	var scores []float64
	var blocked []bool
	for _, input := range op.Inputs {
		prev, ok := d.NodeResults[input]
		if !ok {
			res.Flags = append(res.Flags, "operator:missing_input:"+input)
			scores = append(scores, 0)
			blocked = append(blocked, false)
			continue
		}
		scores = append(scores, prev.Score)
		blocked = append(blocked, prev.Blocked())
	}

	switch op.Op {
	case model.OpSum:
		for _, s := range scores {
			res.Score += s
		}
	case model.OpMax:
		for i, s := range scores {
			if i == 0 || s > res.Score {
				res.Score = s
			}
		}
	case model.OpMin:
		for i, s := range scores {
			if i == 0 || s < res.Score {
				res.Score = s
			}
		}
	case model.OpAnd, model.OpOr:
		value := op.Op == model.OpAnd
		for _, b := range blocked {
			if op.Op == model.OpAnd {
				value = value && b
			} else {
				value = value || b
			}
		}
		if value {
			res.Score = 1
		}
		res.Details = map[string]interface{}{"result": value}
	case model.OpThresholdBranch:
		var input float64
		for _, s := range scores {
			input += s
		}
		res.Score = input
		res.Outcome = ""
		for _, r := range op.Ranges {
			if r.Contains(input) {
				res.Outcome = r.Output
				break
			}
		}
	}

	return res
}

// applyAction resolves a terminal action node into the decision.
func (e *Executor) applyAction(d *Decision, a *model.ActionSpec) {
	d.Score += a.Score
	d.Reason = a.Reason

	switch a.Action {
	case model.ActionAllow:
		d.Action = model.ActionAllow
	case model.ActionBlock:
		d.Action = model.ActionBlock
	case model.ActionTarpit:
		d.Action = model.ActionTarpit
		d.DelaySeconds = a.DelaySeconds
	case model.ActionCaptcha:
		d.Action = model.ActionCaptcha
		d.CaptchaProvider = a.Provider
	case model.ActionFlag:
		d.Action = model.ActionFlag
		if a.Reason == "" {
			d.Reason = "flagged"
		}
	case model.ActionMonitor:
		// Blocking semantics suppressed; the request proceeds.
		d.Action = model.ActionMonitor
		d.Flags = append(d.Flags, FlagMonitorMode)
	default:
		d.Action = model.ActionAllow
	}
}
