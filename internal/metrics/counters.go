// Package metrics maintains the per-process request counters, mirrors them
// into Prometheus, pushes them to the store, and aggregates the cluster
// total on the leader.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dobrevit/formwaf/internal/model"
)

// counterSet holds one (vhost, endpoint) pair's counters. Integer fields
// use atomic adds; the spam score sum stores float64 bits.
type counterSet struct {
	values map[model.CounterField]*atomic.Uint64
}

func newCounterSet() *counterSet {
	cs := &counterSet{values: make(map[model.CounterField]*atomic.Uint64, len(model.CounterFields))}
	for _, f := range model.CounterFields {
		cs.values[f] = &atomic.Uint64{}
	}
	return cs
}

// Counters is the process-local counter store keyed by (vhost, endpoint).
type Counters struct {
	mu   sync.RWMutex
	sets map[string]*counterSet

	requestsTotal *prometheus.CounterVec
	spamScore     prometheus.Histogram
}

// NewCounters creates the counter store and registers its Prometheus
// mirrors on the given registerer (nil skips registration).
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		sets: make(map[string]*counterSet),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waf",
			Name:      "requests_total",
			Help:      "Requests by vhost, endpoint, and outcome counter",
		}, []string{"vhost", "endpoint", "field"}),
		spamScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "waf",
			Name:      "spam_score",
			Help:      "Spam score distribution",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.requestsTotal, c.spamScore)
	}
	return c
}

func key(vhostID, endpointID string) string { return vhostID + "|" + endpointID }

func (c *Counters) set(vhostID, endpointID string) *counterSet {
	k := key(vhostID, endpointID)
	c.mu.RLock()
	cs, ok := c.sets[k]
	c.mu.RUnlock()
	if ok {
		return cs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok = c.sets[k]; ok {
		return cs
	}
	cs = newCounterSet()
	c.sets[k] = cs
	return cs
}

// Inc increments an integer counter.
func (c *Counters) Inc(vhostID, endpointID string, field model.CounterField) {
	c.set(vhostID, endpointID).values[field].Add(1)
	c.requestsTotal.WithLabelValues(vhostID, endpointID, string(field)).Inc()
}

// AddSpamScore accumulates the spam score sum for the pair.
func (c *Counters) AddSpamScore(vhostID, endpointID string, score float64) {
	v := c.set(vhostID, endpointID).values[model.CounterSpamScoreSum]
	for {
		old := v.Load()
		next := math.Float64bits(math.Float64frombits(old) + score)
		if v.CompareAndSwap(old, next) {
			break
		}
	}
	c.spamScore.Observe(score)
}

// Totals sums every field across all (vhost, endpoint) pairs, the shape
// pushed into the per-instance store hash.
func (c *Counters) Totals() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]float64, len(model.CounterFields))
	for _, f := range model.CounterFields {
		out[string(f)] = 0
	}
	for _, cs := range c.sets {
		for f, v := range cs.values {
			if f == model.CounterSpamScoreSum {
				out[string(f)] += math.Float64frombits(v.Load())
			} else {
				out[string(f)] += float64(v.Load())
			}
		}
	}
	return out
}

// PerEndpoint returns a copy of the counters for one pair.
func (c *Counters) PerEndpoint(vhostID, endpointID string) map[string]float64 {
	c.mu.RLock()
	cs, ok := c.sets[key(vhostID, endpointID)]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(cs.values))
	for f, v := range cs.values {
		if f == model.CounterSpamScoreSum {
			out[string(f)] = math.Float64frombits(v.Load())
		} else {
			out[string(f)] = float64(v.Load())
		}
	}
	return out
}
