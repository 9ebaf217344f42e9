// Package syncer is the sole writer of the local cache: it pulls full
// configuration snapshots from the store on an interval and atomically
// swaps them into place.
package syncer

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/store"
)

// DefaultInterval is the periodic pull interval.
const DefaultInterval = 30 * time.Second

// Worker periodically rebuilds the cache snapshot from the store.
type Worker struct {
	store    *store.Client
	cache    *cache.Cache
	logger   *logging.Logger
	interval time.Duration

	cron *cron.Cron

	warmOnce sync.Once
	warmCh   chan struct{}

	// syncMu serializes the periodic pull with on-demand SyncNow calls so
	// the cache keeps exactly one writer.
	syncMu sync.Mutex
}

// NewWorker creates a sync worker.
func NewWorker(st *store.Client, c *cache.Cache, interval time.Duration, logger *logging.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		store:    st,
		cache:    c,
		logger:   logger,
		interval: interval,
		warmCh:   make(chan struct{}),
	}
}

// Start launches the periodic pull on its own timer.
func (w *Worker) Start(ctx context.Context) {
	w.cron = cron.New()
	_, _ = w.cron.AddFunc("@every "+w.interval.String(), func() {
		if err := w.SyncNow(ctx); err != nil {
			w.logger.WithComponent("syncer").WithError(err).Warn("Periodic sync failed; keeping prior snapshot")
		}
	})
	w.cron.Start()

	// Warm the cache immediately rather than waiting a full interval.
	go func() {
		if err := w.SyncNow(ctx); err != nil {
			w.logger.WithComponent("syncer").WithError(err).Warn("Initial sync failed; serving built-in defaults until the next interval")
		}
	}()
}

// Stop halts the periodic pull.
func (w *Worker) Stop() {
	if w.cron != nil {
		ctx := w.cron.Stop()
		<-ctx.Done()
	}
}

// SyncNow performs one full snapshot pull and swap. Safe to call from the
// admin surface after writes.
func (w *Worker) SyncNow(ctx context.Context) error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	staging, err := w.buildSnapshot(ctx)
	if err != nil {
		return err
	}
	version := w.cache.Swap(staging)
	w.warmOnce.Do(func() { close(w.warmCh) })

	w.logger.WithComponent("syncer").WithField("cache_version", version).Debug("Cache snapshot swapped")
	return nil
}

// WaitWarm blocks until the first successful sync or context end.
func (w *Worker) WaitWarm(ctx context.Context) error {
	select {
	case <-w.warmCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildSnapshot reads every category into a staging snapshot. Any category
// read failing fails the whole pull; the live snapshot is untouched.
func (w *Worker) buildSnapshot(ctx context.Context) (*cache.Snapshot, error) {
	s := cache.NewSnapshot()
	s.SyncedAt = time.Now()
	s.Warm = true

	global, err := w.store.GetGlobalConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.Global = global.Layer()

	vhosts, err := w.store.ListVhosts(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range vhosts {
		s.Vhosts[v.ID] = v
	}
	s.VhostList = sortVhosts(vhosts)

	globalEndpoints, err := w.store.ListGlobalEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range globalEndpoints {
		s.Endpoints[e.ID] = e
		w.compileEndpointRegex(s, e)
	}
	s.GlobalEndpoints = sortEndpoints(globalEndpoints)

	for _, v := range vhosts {
		scoped, err := w.store.ListVhostEndpoints(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range scoped {
			s.Endpoints[e.ID] = e
			w.compileEndpointRegex(s, e)
		}
		if len(scoped) > 0 {
			s.VhostEndpoints[v.ID] = sortEndpoints(scoped)
		}
	}

	profiles, err := w.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		s.Profiles[p.ID] = p
		if errs := dag.Validate(&p.Graph); len(errs) > 0 {
			s.InvalidProfiles[p.ID] = errs
			w.logger.WithComponent("syncer").WithField("profile_id", p.ID).WithField("errors", errs).Warn("Profile graph failed validation; it will not execute")
		}
	}

	signatures, err := w.store.ListSignatures(ctx)
	if err != nil {
		return nil, err
	}
	for _, sig := range signatures {
		s.Signatures[sig.ID] = sig
	}

	fingerprints, err := w.store.ListFingerprintProfiles(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(fingerprints, func(i, j int) bool {
		if fingerprints[i].Priority != fingerprints[j].Priority {
			return fingerprints[i].Priority < fingerprints[j].Priority
		}
		return fingerprints[i].ID < fingerprints[j].ID
	})
	s.Fingerprints = fingerprints

	blocked, err := w.store.BlockedKeywords(ctx)
	if err != nil {
		return nil, err
	}
	for _, kw := range blocked {
		s.BlockedKeywords[kw] = struct{}{}
	}

	flagged, err := w.store.FlaggedKeywords(ctx)
	if err != nil {
		return nil, err
	}
	for _, fk := range flagged {
		s.FlaggedKeywords[fk.Keyword] = fk.Score
	}

	hashes, err := w.store.BlockedHashes(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hashes {
		s.BlockedHashes[h] = struct{}{}
	}

	whitelist, err := w.store.WhitelistedIPs(ctx)
	if err != nil {
		return nil, err
	}
	s.SetWhitelist(whitelist)

	return s, nil
}

// compileEndpointRegex compiles an endpoint's path regex at swap time.
// Uncompilable regexes are dropped with a warning; the endpoint's regex
// clause then never matches.
func (w *Worker) compileEndpointRegex(s *cache.Snapshot, e *model.Endpoint) {
	if e.Match.PathRegex == "" {
		return
	}
	re, err := regexp.Compile(e.Match.PathRegex)
	if err != nil {
		w.logger.WithComponent("syncer").WithField("endpoint_id", e.ID).WithError(err).Warn("Endpoint path regex failed to compile")
		return
	}
	s.EndpointRegex[e.ID] = re
}

func sortVhosts(vhosts []*model.Vhost) []*model.Vhost {
	out := append([]*model.Vhost(nil), vhosts...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortEndpoints(endpoints []*model.Endpoint) []*model.Endpoint {
	out := append([]*model.Endpoint(nil), endpoints...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
