// Package dag validates and executes defense profile graphs.
package dag

import (
	"fmt"
	"sort"

	"github.com/dobrevit/formwaf/internal/model"
)

// dfs colors for the acyclicity check.
type color int

const (
	white color = iota // unvisited
	gray               // on the current stack
	black              // fully explored
)

// Validate checks a profile graph against the structural invariants. It
// returns every violation found; an empty slice means the graph may
// execute.
func Validate(g *model.Graph) []string {
	var errs []string

	if len(g.Nodes) == 0 {
		return []string{"graph has no nodes"}
	}

	// Per-node shape checks.
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := g.Nodes[id]
		if n.ID != id {
			errs = append(errs, fmt.Sprintf("node %q: id mismatch with map key", id))
		}
		switch n.Kind {
		case model.NodeStart:
		case model.NodeDefense:
			if n.Defense == nil || n.Defense.Kind == "" {
				errs = append(errs, fmt.Sprintf("node %q: defense node missing kind", id))
			}
		case model.NodeOperator:
			errs = append(errs, validateOperator(g, n)...)
		case model.NodeObservation:
			if n.Observation == nil || n.Observation.Kind == "" {
				errs = append(errs, fmt.Sprintf("node %q: observation node missing kind", id))
			}
		case model.NodeAction:
			if n.Action == nil {
				errs = append(errs, fmt.Sprintf("node %q: action node missing payload", id))
			}
			if len(n.Outputs) > 0 {
				errs = append(errs, fmt.Sprintf("node %q: action nodes must not have outputs", id))
			}
		default:
			errs = append(errs, fmt.Sprintf("node %q: unknown kind %q", id, n.Kind))
		}

		// Dangling edges.
		for label, target := range n.Outputs {
			if _, ok := g.Nodes[target]; !ok {
				errs = append(errs, fmt.Sprintf("node %q: output %q targets missing node %q", id, label, target))
			}
		}
	}

	// Exactly one start.
	starts := g.StartNodes()
	if len(starts) != 1 {
		errs = append(errs, fmt.Sprintf("graph must have exactly one start node, found %d", len(starts)))
		return errs
	}
	start := starts[0]

	// Reachability and acyclicity from start.
	colors := make(map[string]color, len(g.Nodes))
	if cycle := visit(g, start, colors); cycle != "" {
		errs = append(errs, fmt.Sprintf("cycle detected through node %q", cycle))
	}
	for _, id := range ids {
		if colors[id] == white {
			errs = append(errs, fmt.Sprintf("node %q is not reachable from start", id))
		}
	}

	return errs
}

// visit runs the white/gray/black DFS; it returns the id closing a cycle,
// empty when none.
func visit(g *model.Graph, id string, colors map[string]color) string {
	colors[id] = gray
	n := g.Nodes[id]

	labels := make([]string, 0, len(n.Outputs))
	for label := range n.Outputs {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		target := n.Outputs[label]
		next, ok := g.Nodes[target]
		if !ok {
			continue // reported as a dangling edge
		}
		switch colors[next.ID] {
		case gray:
			return next.ID
		case white:
			if cycle := visit(g, next.ID, colors); cycle != "" {
				return cycle
			}
		}
	}

	colors[id] = black
	return ""
}

func validateOperator(g *model.Graph, n *model.Node) []string {
	var errs []string
	if n.Operator == nil {
		return []string{fmt.Sprintf("node %q: operator node missing payload", n.ID)}
	}

	switch n.Operator.Op {
	case model.OpSum, model.OpMax, model.OpMin, model.OpAnd, model.OpOr, model.OpThresholdBranch:
	default:
		errs = append(errs, fmt.Sprintf("node %q: unknown operator %q", n.ID, n.Operator.Op))
	}

	if len(n.Operator.Inputs) == 0 {
		errs = append(errs, fmt.Sprintf("node %q: operator declares no inputs", n.ID))
	}
	for _, input := range n.Operator.Inputs {
		if _, ok := g.Nodes[input]; !ok {
			errs = append(errs, fmt.Sprintf("node %q: operator input %q does not exist", n.ID, input))
		}
	}

	if n.Operator.Op == model.OpThresholdBranch {
		errs = append(errs, validateRanges(n)...)
	}
	return errs
}

// validateRanges rejects overlapping threshold ranges.
func validateRanges(n *model.Node) []string {
	ranges := n.Operator.Ranges
	if len(ranges) == 0 {
		return []string{fmt.Sprintf("node %q: threshold_branch declares no ranges", n.ID)}
	}

	var errs []string
	sorted := append([]model.ThresholdRange(nil), ranges...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })

	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.Max == nil || *cur.Max > next.Min {
			errs = append(errs, fmt.Sprintf("node %q: ranges %q and %q overlap", n.ID, cur.Output, next.Output))
		}
	}
	for _, r := range sorted {
		if r.Output == "" {
			errs = append(errs, fmt.Sprintf("node %q: range at min %v has no output label", n.ID, r.Min))
		}
		if r.Max != nil && *r.Max <= r.Min {
			errs = append(errs, fmt.Sprintf("node %q: range %q is empty", n.ID, r.Output))
		}
	}
	return errs
}
