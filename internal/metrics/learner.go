package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/store"
)

// FieldLearner batches observed field names per endpoint and flushes them
// to the store off the request path. It implements the observation node's
// field sink.
type FieldLearner struct {
	mu         sync.Mutex
	pending    map[string]map[string]struct{}
	maxPending int

	store  *store.Client
	logger *logging.Logger
}

// NewFieldLearner creates a learner flushing into the given store.
func NewFieldLearner(st *store.Client, logger *logging.Logger) *FieldLearner {
	return &FieldLearner{
		pending:    make(map[string]map[string]struct{}),
		maxPending: 10000,
		store:      st,
		logger:     logger,
	}
}

// Observe records field names for an endpoint. Cheap and non-blocking;
// called from the request path.
func (l *FieldLearner) Observe(endpointID string, fields []string) {
	if endpointID == "" || len(fields) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, set := range l.pending {
		total += len(set)
	}
	if total >= l.maxPending {
		return
	}

	set, ok := l.pending[endpointID]
	if !ok {
		set = make(map[string]struct{})
		l.pending[endpointID] = set
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}
}

// Flush writes every pending batch. Failed batches are re-queued for the
// next interval.
func (l *FieldLearner) Flush(ctx context.Context) {
	l.mu.Lock()
	batch := l.pending
	l.pending = make(map[string]map[string]struct{})
	l.mu.Unlock()

	for endpointID, set := range batch {
		fields := make([]string, 0, len(set))
		for f := range set {
			fields = append(fields, f)
		}
		if err := l.store.AppendLearnedFields(ctx, endpointID, fields); err != nil {
			l.logger.WithComponent("field_learner").WithError(err).Warn("Learned field flush failed")
			l.mu.Lock()
			if _, ok := l.pending[endpointID]; !ok {
				l.pending[endpointID] = set
			}
			l.mu.Unlock()
		}
	}
}

// Run flushes on the given interval until the context ends.
func (l *FieldLearner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Flush(ctx)
		case <-ctx.Done():
			l.Flush(context.Background())
			return
		}
	}
}
