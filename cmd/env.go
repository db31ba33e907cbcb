package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/coordinator"
	"github.com/sells-group/imagery-cli/internal/cost"
	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/metrics"
	"github.com/sells-group/imagery-cli/internal/monitoring"
	"github.com/sells-group/imagery-cli/internal/orchestrator"
	"github.com/sells-group/imagery-cli/internal/provider"
	"github.com/sells-group/imagery-cli/internal/ratelimit"
	"github.com/sells-group/imagery-cli/internal/registry"
	"github.com/sells-group/imagery-cli/internal/resilience"
	"github.com/sells-group/imagery-cli/internal/staleness"
	"github.com/sells-group/imagery-cli/internal/store"
	"github.com/sells-group/imagery-cli/internal/worker"
)

// enrichEnv holds everything the serve/work/enrich/coordinate commands share.
type enrichEnv struct {
	Store        store.Store
	Registry     *registry.Registry
	Limiter      *ratelimit.Limiter
	Breakers     *resilience.ProviderBreakers
	Orchestrator *orchestrator.Orchestrator
	Handler      *worker.Handler
	Coordinator  *coordinator.Coordinator
	Queue        jobs.Queue
	Metrics      *metrics.Metrics
	Prometheus   *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *enrichEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// JobFunc returns the runner handler for queued jobs.
func (e *enrichEnv) JobFunc() jobs.HandlerFunc {
	return worker.JobFunc(e.Handler, e.Coordinator)
}

// Runner builds a job runner over the environment's queue.
func (e *enrichEnv) Runner() *jobs.Runner {
	return jobs.NewRunner(e.Queue, e.JobFunc(), runnerConfig(), jobs.WithObserver(e.Metrics.JobOutcome))
}

// startMonitoring runs the alert checker in the background when a webhook
// is configured.
func (e *enrichEnv) startMonitoring(ctx context.Context) {
	if cfg.Monitoring.WebhookURL == "" {
		return
	}
	counter, ok := e.Queue.(monitoring.Counter)
	if !ok {
		return
	}
	var states monitoring.StateSource
	if e.Breakers != nil {
		states = e.Breakers
	}
	checker := monitoring.NewChecker(
		monitoring.NewCollector(counter, states),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
	go checker.Run(ctx)
}

func runnerConfig() jobs.RunnerConfig {
	rc := cfg.Runner
	return jobs.RunnerConfig{
		Concurrency:    rc.Concurrency,
		BatchSize:      rc.BatchSize,
		PollInterval:   secs(rc.PollIntervalSecs),
		AttemptTimeout: secs(rc.AttemptTimeoutSecs),
		MaxAttempts:    rc.MaxAttempts,
		Backoff:        resilience.FromBackoffConfig(rc.BackoffInitialSecs, rc.BackoffMaxSecs, rc.BackoffMultiplier, rc.BackoffJitter),
	}
}

// initEnv sets up the store, provider registry, clients, orchestrator, worker
// and queue. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := registry.New(registry.NewCachedSource(registrySource(st), cfg.Providers.CacheTTL()))
	clients := provider.FromConfig(cfg)
	zap.L().Info("provider clients configured", zap.Strings("providers", clients.List()))

	promReg := prometheus.NewRegistry()
	m, err := metrics.New(promReg)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "register metrics")
	}

	limiter := ratelimit.New()
	opts := []orchestrator.Option{
		orchestrator.WithProviderTimeout(cfg.Orchestrator.ProviderTimeout()),
		orchestrator.WithCalculator(cost.NewCalculator(cfg.Pricing.PerImage)),
		orchestrator.WithObserver(m.ProviderCall),
	}
	var breakers *resilience.ProviderBreakers
	if cfg.Orchestrator.CircuitBreakers {
		bc := resilience.FromBreakerConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs)
		bc.OnStateChange = func(name string, from, to resilience.CircuitState) {
			zap.L().Warn("circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}
		breakers = resilience.NewProviderBreakers(bc)
		opts = append(opts, orchestrator.WithBreakers(breakers))
		m.Observe(limiter, breakers)
	} else {
		m.Observe(limiter, nil)
	}
	orch := orchestrator.New(reg, clients, limiter, opts...)

	sc := cfg.Staleness
	policy := staleness.New(sc.EmptyAfterDays, sc.FoundAfterDays, sc.GalleryRefreshDays)
	handler := worker.New(st, orch, policy, sc.Categories, sc.GalleryRefreshDays)

	queue := initQueue(st)
	coord := coordinator.New(st, queue, cfg.Coordinator.MinVenues)

	return &enrichEnv{
		Store:        st,
		Registry:     reg,
		Limiter:      limiter,
		Breakers:     breakers,
		Orchestrator: orch,
		Handler:      handler,
		Coordinator:  coord,
		Queue:        queue,
		Metrics:      m,
		Prometheus:   promReg,
	}, nil
}

// initQueue returns the durable Postgres queue when the store is Postgres
// and an in-process queue otherwise.
func initQueue(st store.Store) jobs.Queue {
	if ps, ok := st.(*store.PostgresStore); ok {
		return jobs.NewPostgresQueue(ps.Pool())
	}
	zap.L().Warn("store is not postgres, using in-memory job queue")
	return jobs.NewMemoryQueue()
}

func registrySource(st store.Store) registry.Source {
	if cfg.Providers.Source == "store" {
		return registry.StoreSource{Store: st}
	}
	return registry.FileSource{Path: cfg.Providers.File}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "imagery.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
