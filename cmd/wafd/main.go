// Command wafd runs one WAF instance: the data-plane classification
// surface, the thin admin surface, and the periodic cluster tasks.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/dobrevit/formwaf/internal/adminapi"
	"github.com/dobrevit/formwaf/internal/cache"
	"github.com/dobrevit/formwaf/internal/config"
	"github.com/dobrevit/formwaf/internal/coordinator"
	"github.com/dobrevit/formwaf/internal/dag"
	"github.com/dobrevit/formwaf/internal/dagnode"
	"github.com/dobrevit/formwaf/internal/dataplane"
	"github.com/dobrevit/formwaf/internal/fingerprint"
	"github.com/dobrevit/formwaf/internal/logging"
	"github.com/dobrevit/formwaf/internal/metrics"
	"github.com/dobrevit/formwaf/internal/orchestrator"
	"github.com/dobrevit/formwaf/internal/pattern"
	"github.com/dobrevit/formwaf/internal/provider"
	"github.com/dobrevit/formwaf/internal/resolver"
	"github.com/dobrevit/formwaf/internal/serviceauth"
	"github.com/dobrevit/formwaf/internal/signature"
	"github.com/dobrevit/formwaf/internal/store"
	"github.com/dobrevit/formwaf/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New("wafd", cfg.LogLevel, cfg.LogFormat)

	instanceID := coordinator.InstanceID()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(store.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	}, logger)
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Store unreachable at startup; serving built-in defaults until it recovers")
	}

	// Process-wide singletons: cache, pattern cache, counters.
	c := cache.New()
	patterns, err := pattern.NewCache(4096)
	if err != nil {
		logger.WithError(err).Fatal("pattern cache init")
	}
	promRegistry := prometheus.NewRegistry()
	counters := metrics.NewCounters(promRegistry)
	learner := metrics.NewFieldLearner(st, logger)

	registry := dagnode.NewRegistry(dagnode.Deps{
		Patterns: patterns,
		Limiters: dagnode.NewLimiters(0),
		Learner:  learner,
		Logger:   logger,
	})
	merger, err := signature.NewMerger(1024)
	if err != nil {
		logger.WithError(err).Fatal("merger init")
	}
	res, err := resolver.New(8192)
	if err != nil {
		logger.WithError(err).Fatal("resolver init")
	}

	webhooks := provider.NewWebhookQueue(
		provider.NewHTTPWebhookSender(5*time.Second),
		func() string {
			if g := c.Snapshot().Global; g != nil && g.Webhooks != nil && g.Webhooks.URL != nil {
				return *g.Webhooks.URL
			}
			return ""
		},
		cfg.WebhookQueueBound,
		logger,
	)
	webhooks.Start()
	defer webhooks.Stop()

	orch := orchestrator.New(dag.NewExecutor(registry, logger), merger, logger)

	// Sync worker: the cache's sole writer.
	sync := syncer.NewWorker(st, c, cfg.SyncInterval, logger)
	sync.Start(ctx)
	defer sync.Stop()

	// Coordinator: heartbeat, election, leader maintenance.
	coord := coordinator.New(st, instanceID, cfg.Workers, logger)
	aggregator := metrics.NewAggregator(st, counters, instanceID, logger)
	coord.RegisterLeaderTask(aggregator.Aggregate)

	bootstrap, err := config.LoadBootstrap(cfg.BootstrapFile)
	if err != nil {
		logger.WithError(err).Fatal("bootstrap load")
	}
	coord.RegisterLeaderTask(func(ctx context.Context) error {
		return bootstrap.Seed(ctx, st, logger)
	})

	if err := coord.Start(ctx); err != nil {
		logger.WithError(err).Warn("Coordinator start failed; continuing without cluster registration")
	}
	defer coord.Stop(context.Background())

	// Periodic metric push and learner flush on their own timers.
	tasks := cron.New()
	_, _ = tasks.AddFunc("@every "+cfg.MetricsPushInterval.String(), func() { _ = aggregator.Push(ctx) })
	tasks.Start()
	defer func() { <-tasks.Stop().Done() }()
	go learner.Run(ctx, cfg.LearnerFlushInterval)

	// Data-plane surface.
	dp := dataplane.NewHandler(dataplane.Deps{
		Cache:       c,
		Resolver:    res,
		Orch:        orch,
		Fingerprint: fingerprint.NewEvaluator(patterns),
		Counters:    counters,
		Webhooks:    webhooks,
		Logger:      logger,
		MaxBody:     cfg.MaxBodyBytes,
	})
	dataRouter := dp.Router()

	dataSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           dataRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Admin surface plus /metrics and health.
	auth := serviceauth.NewSigner(cfg.ServiceAuthSecret)
	adminMux := http.NewServeMux()
	adminMux.Handle("/api/v1/", adminapi.Router(adminapi.Deps{
		Store:  st,
		Syncer: sync,
		Coord:  coord,
		Auth:   auth,
		Logger: logger,
	}))
	adminMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminMux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if c.Warm() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("Data plane listening")
		if err := dataSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("data plane server")
		}
	}()
	go func() {
		logger.WithField("addr", cfg.AdminAddr).Info("Admin surface listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("admin server")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM: stop accepting, push a final
	// metric batch, deregister.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.WithField("instance_id", instanceID).Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = dataSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	_ = aggregator.Push(shutdownCtx)
	cancel()
}
