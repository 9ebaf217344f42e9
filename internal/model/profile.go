package model

// NodeKind discriminates the graph node variants.
type NodeKind string

const (
	NodeStart       NodeKind = "start"
	NodeDefense     NodeKind = "defense"
	NodeOperator    NodeKind = "operator"
	NodeObservation NodeKind = "observation"
	NodeAction      NodeKind = "action"
)

// OperatorOp is the behavior of an operator node.
type OperatorOp string

const (
	OpSum             OperatorOp = "sum"
	OpMax             OperatorOp = "max"
	OpMin             OperatorOp = "min"
	OpAnd             OperatorOp = "and"
	OpOr              OperatorOp = "or"
	OpThresholdBranch OperatorOp = "threshold_branch"
)

// ThresholdRange maps a half-open score interval [Min, Max) to an output
// label. A nil Max means +inf.
type ThresholdRange struct {
	Min    float64  `json:"min"`
	Max    *float64 `json:"max"`
	Output string   `json:"output"`
}

// Contains reports whether score falls in [Min, Max).
func (r ThresholdRange) Contains(score float64) bool {
	if score < r.Min {
		return false
	}
	return r.Max == nil || score < *r.Max
}

// DefenseSpec is the payload of a defense node: the detection kind and its
// kind-specific configuration. The signature merger adds the merged overlay
// under the "signature_patterns" config key at execution time.
type DefenseSpec struct {
	// Kind names the registered detection unit (and the signature section
	// that overlays it), e.g. "keyword_filter", "rate_limiter".
	Kind   string                 `json:"kind"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// OperatorSpec is the payload of an operator node.
type OperatorSpec struct {
	Op OperatorOp `json:"op"`
	// Inputs names the predecessor node ids whose cached results feed the
	// operator.
	Inputs []string         `json:"inputs"`
	Ranges []ThresholdRange `json:"ranges,omitempty"`
}

// ObservationSpec is the payload of an observation node. Observations
// record side effects only and always emit "continue".
type ObservationSpec struct {
	Kind   string                 `json:"kind"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// ActionSpec is the payload of a terminal action node.
type ActionSpec struct {
	Action       Action  `json:"action"`
	Reason       string  `json:"reason,omitempty"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// Node is one graph node. Kind selects which payload pointer is set;
// exactly one payload is non-nil except for start nodes, which carry none.
type Node struct {
	ID          string           `json:"id"`
	Kind        NodeKind         `json:"kind"`
	Defense     *DefenseSpec     `json:"defense,omitempty"`
	Operator    *OperatorSpec    `json:"operator,omitempty"`
	Observation *ObservationSpec `json:"observation,omitempty"`
	Action      *ActionSpec      `json:"action,omitempty"`
	// Outputs maps an outcome label to the target node id. An edge
	// (from, label) -> to exists iff from.Outputs[label] == to.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Graph is a defense profile's node graph.
type Graph struct {
	Nodes map[string]*Node `json:"nodes"`
}

// StartNodes returns the ids of all start nodes (a valid graph has one).
func (g *Graph) StartNodes() []string {
	var ids []string
	for id, n := range g.Nodes {
		if n.Kind == NodeStart {
			ids = append(ids, id)
		}
	}
	return ids
}

// ProfileSettings are the per-profile execution settings.
type ProfileSettings struct {
	DefaultAction      Action `json:"default_action"`
	MaxExecutionTimeMs int64  `json:"max_execution_time_ms"`
}

// DefenseProfile is a named DAG configuring a policy.
type DefenseProfile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Priority int             `json:"priority"`
	Builtin  bool            `json:"builtin"`
	Version  int64           `json:"version"`
	Settings ProfileSettings `json:"settings"`
	Graph    Graph           `json:"graph"`
	Metadata Metadata        `json:"metadata"`
}

// DefaultActionOrAllow returns the configured default action, falling back
// to allow when unset.
func (p *DefenseProfile) DefaultActionOrAllow() Action {
	if p.Settings.DefaultAction == "" {
		return ActionAllow
	}
	return p.Settings.DefaultAction
}
