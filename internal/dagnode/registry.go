package dagnode

import (
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/pattern"
	"github.com/dobrevit/formwaf/internal/provider"
)

// Deps are the shared dependencies handed to the builtin nodes.
type Deps struct {
	Patterns   *pattern.Cache
	Limiters   *Limiters
	GeoIP      provider.GeoIP
	Reputation provider.Reputation
	Learner    FieldSink
	Logger     *logging.Logger
}

// Registry resolves node kinds to handlers. Kinds double as signature
// section names.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a registry pre-populated with the builtin nodes.
func NewRegistry(deps Deps) *Registry {
	if deps.Limiters == nil {
		deps.Limiters = NewLimiters(0)
	}
	if deps.Learner == nil {
		deps.Learner = nopSink{}
	}

	r := &Registry{handlers: make(map[string]Handler)}
	r.Register(&keywordFilterNode{patterns: deps.Patterns, logger: deps.Logger})
	r.Register(&userAgentFilterNode{patterns: deps.Patterns, logger: deps.Logger})
	r.Register(&rateLimiterNode{limiters: deps.Limiters})
	r.Register(&timingCheckNode{})
	r.Register(&fieldRulesNode{patterns: deps.Patterns, logger: deps.Logger})
	r.Register(&hashFilterNode{})
	r.Register(&ipFilterNode{geoip: deps.GeoIP, reputation: deps.Reputation, logger: deps.Logger})
	r.Register(&honeypotNode{})
	r.Register(&scriptNode{logger: deps.Logger})
	r.Register(&fieldLearnerNode{sink: deps.Learner})
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Kind()] = h
}

// Get resolves a kind, nil when unregistered.
func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists every registered kind.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
