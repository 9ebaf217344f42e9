package metrics

import (
	"context"
	"time"

	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/store"
)

// Aggregator pushes this instance's counters to the store and, on the
// leader, fans every instance's counters into the cluster total.
type Aggregator struct {
	store      *store.Client
	counters   *Counters
	instanceID string
	logger     *logging.Logger
	now        func() time.Time
}

// NewAggregator creates an aggregator for this instance.
func NewAggregator(st *store.Client, counters *Counters, instanceID string, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		store:      st,
		counters:   counters,
		instanceID: instanceID,
		logger:     logger,
		now:        time.Now,
	}
}

// Push writes the instance's counter totals into its TTL-guarded hash.
// Runs on every instance on the push interval.
func (a *Aggregator) Push(ctx context.Context) error {
	totals := a.counters.Totals()
	if err := a.store.PushInstanceCounters(ctx, a.instanceID, totals, a.now()); err != nil {
		a.logger.WithComponent("metrics").WithError(err).Warn("Instance counter push failed")
		return err
	}
	return nil
}

// Aggregate scans every instance's counters and writes the cluster total.
// Leader-only: leadership is re-checked immediately before the write so an
// expired ex-leader cannot corrupt metrics:global.
func (a *Aggregator) Aggregate(ctx context.Context) error {
	keys, err := a.store.ScanInstanceCounterKeys(ctx)
	if err != nil {
		return err
	}
	perInstance, err := a.store.ReadInstanceCounters(ctx, keys)
	if err != nil {
		return err
	}

	total := make(map[string]float64)
	for _, counters := range perInstance {
		for field, v := range counters {
			total[field] += v
		}
	}

	isLeader, err := a.store.IsLeader(ctx, a.instanceID)
	if err != nil {
		return err
	}
	if !isLeader {
		a.logger.WithComponent("metrics").Warn("Skipping global counter write: leadership lost")
		return nil
	}

	return a.store.WriteGlobalCounters(ctx, total, len(perInstance), a.now())
}
