// Package dagnode defines the node contract and the registry of pluggable
// detection units evaluated by the DAG executor.
package dagnode

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/resolver"
)

// Outcome labels shared across node kinds. Each kind emits a small
// alphabet; "continue" is the universal pass-through label.
const (
	OutcomeBlocked  = "blocked"
	OutcomeAllowed  = "allowed"
	OutcomeContinue = "continue"
)

// logSuppressInterval bounds repeated per-key warnings from node handlers.
const logSuppressInterval = 5 * time.Minute

// RequestContext is the immutable per-request input to every node. Nodes
// may read the cached shared state through Snapshot but must never write
// configuration.
type RequestContext struct {
	Host        string
	Path        string
	Method      string
	ClientIP    net.IP
	Headers     http.Header
	Fields      map[string]string
	FormHash    string
	Fingerprint string
	ReceivedAt  time.Time
	// JSONBody is the decoded tree of a JSON submission, nil otherwise.
	JSONBody interface{}

	VhostID    string
	EndpointID string

	Snapshot  *cache.Snapshot
	Effective *resolver.Effective
}

// Result is one node's output.
type Result struct {
	Outcome string
	Score   float64
	Flags   []string
	Details map[string]interface{}
}

// ContinueResult is the neutral result emitted when a node has nothing to
// report.
func ContinueResult() *Result {
	return &Result{Outcome: OutcomeContinue}
}

// Blocked reports whether the node produced a blocking outcome.
func (r *Result) Blocked() bool {
	return r.Outcome == OutcomeBlocked
}

// Handler is the contract every defense and observation unit implements.
// Evaluate must be pure over its inputs and the cached shared state.
type Handler interface {
	Kind() string
	Evaluate(ctx context.Context, req *RequestContext, cfg Config) (*Result, error)
}

// FieldSink receives observed field names from observation nodes. The
// field learner batches these into store writes off the request path.
type FieldSink interface {
	Observe(endpointID string, fields []string)
}

// nopSink drops observations; used when no learner is wired.
type nopSink struct{}

func (nopSink) Observe(string, []string) {}

// ActionMatchesOutcome reports whether a node config's declared action
// corresponds to the produced outcome label, per the outcome semantics:
// execution proceeds through the label when they agree.
func ActionMatchesOutcome(action model.Action, outcome string) bool {
	switch outcome {
	case OutcomeBlocked:
		return action.Blocking()
	case OutcomeAllowed:
		return action == model.ActionAllow
	default:
		return false
	}
}
