package dag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/pattern"
	"github.com/dobrevit/formwaf/internal/resolver"
)

// stubNode emits a fixed result, configurable per node via config keys
// "outcome" and "stub_score".
type stubNode struct{}

func (stubNode) Kind() string { return "stub" }

func (stubNode) Evaluate(_ context.Context, _ *dagnode.RequestContext, cfg dagnode.Config) (*dagnode.Result, error) {
	outcome := cfg.String("outcome")
	if outcome == "" {
		outcome = dagnode.OutcomeContinue
	}
	score, _ := cfg.Float("stub_score")
	return &dagnode.Result{Outcome: outcome, Score: score}, nil
}

// sleepNode blocks for the configured duration, simulating a slow handler.
type sleepNode struct{}

func (sleepNode) Kind() string { return "sleep" }

func (sleepNode) Evaluate(_ context.Context, _ *dagnode.RequestContext, cfg dagnode.Config) (*dagnode.Result, error) {
	ms, _ := cfg.Float("sleep_ms")
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return dagnode.ContinueResult(), nil
}

func testRegistry(t *testing.T) *dagnode.Registry {
	t.Helper()
	patterns, err := pattern.NewCache(64)
	require.NoError(t, err)
	r := dagnode.NewRegistry(dagnode.Deps{
		Patterns: patterns,
		Logger:   logging.New("dag-test", "error", "text"),
	})
	r.Register(stubNode{})
	r.Register(sleepNode{})
	return r
}

func testReq() *dagnode.RequestContext {
	eff := resolver.Defaults()
	return &dagnode.RequestContext{
		Snapshot:  cache.NewSnapshot(),
		Effective: &eff,
		Fields:    map[string]string{},
	}
}

func profileWith(graph *model.Graph) *model.DefenseProfile {
	return &model.DefenseProfile{
		ID:      "test-profile",
		Enabled: true,
		Settings: model.ProfileSettings{
			DefaultAction:      model.ActionAllow,
			MaxExecutionTimeMs: 1000,
		},
		Graph: *graph,
	}
}

func stub(id, outcome string, score float64, outputs map[string]string) *model.Node {
	return &model.Node{
		ID:   id,
		Kind: model.NodeDefense,
		Defense: &model.DefenseSpec{
			Kind:   "stub",
			Config: map[string]interface{}{"outcome": outcome, "stub_score": score},
		},
		Outputs: outputs,
	}
}

func action(id string, spec model.ActionSpec) *model.Node {
	return &model.Node{ID: id, Kind: model.NodeAction, Action: &spec}
}

func TestExecute_BlockPath(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "check"}},
		"check": stub("check", dagnode.OutcomeBlocked, 100, map[string]string{
			"blocked":  "deny",
			"continue": "permit",
		}),
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
		"deny":   action("deny", model.ActionSpec{Action: model.ActionBlock, Reason: "spam"}),
	}}

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())

	assert.Equal(t, model.ActionBlock, d.Action)
	assert.Equal(t, "spam", d.Reason)
	assert.Equal(t, 100.0, d.Score)
	assert.True(t, d.Blocking())
}

func TestExecute_ThresholdBranchBoundary(t *testing.T) {
	// Two defense nodes scoring 30 and 20 feed a sum; 50 lands in [50,80)
	// by the half-open rule and selects the medium -> captcha path.
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "a"}},
		"a":     stub("a", dagnode.OutcomeContinue, 30, map[string]string{"continue": "b"}),
		"b":     stub("b", dagnode.OutcomeContinue, 20, map[string]string{"continue": "sum"}),
		"sum": {
			ID: "sum", Kind: model.NodeOperator,
			Operator: &model.OperatorSpec{Op: model.OpSum, Inputs: []string{"a", "b"}},
			Outputs:  map[string]string{"next": "branch"},
		},
		"branch": {
			ID: "branch", Kind: model.NodeOperator,
			Operator: &model.OperatorSpec{
				Op:     model.OpThresholdBranch,
				Inputs: []string{"sum"},
				Ranges: []model.ThresholdRange{
					{Min: 0, Max: f64Ptr(50), Output: "low"},
					{Min: 50, Max: f64Ptr(80), Output: "medium"},
					{Min: 80, Max: nil, Output: "high"},
				},
			},
			Outputs: map[string]string{"low": "permit", "medium": "challenge", "high": "deny"},
		},
		"permit":    action("permit", model.ActionSpec{Action: model.ActionAllow}),
		"challenge": action("challenge", model.ActionSpec{Action: model.ActionCaptcha, Provider: "turnstile"}),
		"deny":      action("deny", model.ActionSpec{Action: model.ActionBlock}),
	}}

	require.Empty(t, Validate(g))

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())

	assert.Equal(t, model.ActionCaptcha, d.Action)
	assert.Equal(t, "turnstile", d.CaptchaProvider)
	assert.Equal(t, 50.0, d.Score)
}

func TestExecute_MissingLabelFallsToDefaultAction(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "check"}},
		// The blocked outcome has no edge; the path terminates via the
		// profile default.
		"check":  stub("check", dagnode.OutcomeBlocked, 40, map[string]string{"continue": "permit"}),
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	p := profileWith(g)
	p.Settings.DefaultAction = model.ActionMonitor

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), p, g, testReq())
	assert.Equal(t, model.ActionMonitor, d.Action)
}

func TestExecute_CycleDetected(t *testing.T) {
	// The validator would reject this; the executor's defensive check
	// still terminates.
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "a"}},
		"a":     stub("a", dagnode.OutcomeContinue, 0, map[string]string{"continue": "b"}),
		"b":     stub("b", dagnode.OutcomeContinue, 0, map[string]string{"continue": "a"}),
	}}

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())

	assert.Equal(t, model.ActionAllow, d.Action)
	assert.Contains(t, d.Flags, FlagCycleDetected)
}

func TestExecute_HardCeilingAborts(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "slow"}},
		"slow": {
			ID: "slow", Kind: model.NodeDefense,
			Defense: &model.DefenseSpec{Kind: "sleep", Config: map[string]interface{}{"sleep_ms": 30.0}},
			Outputs: map[string]string{"continue": "permit"},
		},
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	p := profileWith(g)
	p.Settings.DefaultAction = model.ActionBlock
	p.Settings.MaxExecutionTimeMs = 1 // ceiling at 10ms

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), p, g, testReq())

	assert.Equal(t, model.ActionBlock, d.Action)
	assert.Contains(t, d.Flags, FlagTimeout)
}

func TestExecute_SoftBudgetWarnsButContinues(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "slow"}},
		"slow": {
			ID: "slow", Kind: model.NodeDefense,
			Defense: &model.DefenseSpec{Kind: "sleep", Config: map[string]interface{}{"sleep_ms": 30.0}},
			Outputs: map[string]string{"continue": "permit"},
		},
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	p := profileWith(g)
	p.Settings.MaxExecutionTimeMs = 20 // soft 20ms, ceiling 200ms

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), p, g, testReq())

	// The budget overrun is recorded but the traversal completed.
	assert.Equal(t, model.ActionAllow, d.Action)
	assert.Contains(t, d.Flags, FlagBudgetWarning)
}

func TestExecute_CancellationAtNodeBoundary(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start":  {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "check"}},
		"check":  stub("check", dagnode.OutcomeContinue, 0, map[string]string{"continue": "permit"}),
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(ctx, profileWith(g), g, testReq())
	assert.Contains(t, d.Flags, FlagCancelled)
}

func TestExecute_TarpitCarriesDelay(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "trap"}},
		"trap":  action("trap", model.ActionSpec{Action: model.ActionTarpit, DelaySeconds: 8}),
	}}

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionTarpit, d.Action)
	assert.Equal(t, 8.0, d.DelaySeconds)
	assert.True(t, d.Blocking())
}

func TestExecute_MonitorSuppressesBlocking(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start":   {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "observe"}},
		"observe": action("observe", model.ActionSpec{Action: model.ActionMonitor}),
	}}

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionMonitor, d.Action)
	assert.False(t, d.Blocking())
	assert.Contains(t, d.Flags, FlagMonitorMode)
}

func TestExecute_OperatorAndOr(t *testing.T) {
	build := func(op model.OperatorOp, outcomes [2]string) *model.Graph {
		return &model.Graph{Nodes: map[string]*model.Node{
			"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "a"}},
			"a":     stub("a", outcomes[0], 0, map[string]string{"continue": "b", "blocked": "b"}),
			"b":     stub("b", outcomes[1], 0, map[string]string{"continue": "op", "blocked": "op"}),
			"op": {
				ID: "op", Kind: model.NodeOperator,
				Operator: &model.OperatorSpec{Op: op, Inputs: []string{"a", "b"}},
				Outputs:  map[string]string{"next": "branch"},
			},
			"branch": {
				ID: "branch", Kind: model.NodeOperator,
				Operator: &model.OperatorSpec{
					Op:     model.OpThresholdBranch,
					Inputs: []string{"op"},
					Ranges: []model.ThresholdRange{
						{Min: 0, Max: f64Ptr(1), Output: "clean"},
						{Min: 1, Max: nil, Output: "dirty"},
					},
				},
				Outputs: map[string]string{"clean": "permit", "dirty": "deny"},
			},
			"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
			"deny":   action("deny", model.ActionSpec{Action: model.ActionBlock}),
		}}
	}

	e := NewExecutor(testRegistry(t), nil)

	// or: one blocked input is enough.
	g := build(model.OpOr, [2]string{dagnode.OutcomeBlocked, dagnode.OutcomeContinue})
	d := e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionBlock, d.Action)

	// and: one clean input keeps it clean.
	g = build(model.OpAnd, [2]string{dagnode.OutcomeBlocked, dagnode.OutcomeContinue})
	d = e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionAllow, d.Action)
}

func TestExecute_ObservationNeverChangesState(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "watch"}},
		"watch": {
			ID: "watch", Kind: model.NodeObservation,
			Observation: &model.ObservationSpec{Kind: "field_learner"},
			Outputs:     map[string]string{"continue": "permit"},
		},
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	e := NewExecutor(testRegistry(t), nil)
	d := e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionAllow, d.Action)
	assert.Zero(t, d.Score)
}

func TestExecute_UnknownKindContinues(t *testing.T) {
	g := &model.Graph{Nodes: map[string]*model.Node{
		"start": {ID: "start", Kind: model.NodeStart, Outputs: map[string]string{"next": "mystery"}},
		"mystery": {
			ID: "mystery", Kind: model.NodeDefense,
			Defense: &model.DefenseSpec{Kind: "not_registered"},
			Outputs: map[string]string{"continue": "permit"},
		},
		"permit": action("permit", model.ActionSpec{Action: model.ActionAllow}),
	}}

	e := NewExecutor(testRegistry(t), logging.New("dag-test", "error", "text"))
	d := e.Execute(context.Background(), profileWith(g), g, testReq())
	assert.Equal(t, model.ActionAllow, d.Action)
	assert.Contains(t, d.Flags, "unknown_node_kind:not_registered")
}
