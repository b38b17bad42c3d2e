package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/document"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/idf"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/indexer"
	ingestionhandler "github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/pool"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/lexical-retriever/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus LR_* env when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// stores holds the request-serving store and the IDF updater's own store.
type stores struct {
	requests  document.Store
	updater   document.Store
	poolStats func() pool.Stats
	closers   []func() error
}

func (s *stores) close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Error("closing store", "error", err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		mem := storage.NewMemoryStore()
		slog.Warn("using in-memory storage, documents are lost on exit")
		return &stores{requests: mem, updater: mem, closers: []func() error{mem.Close}}, nil
	}

	reqs, err := storage.OpenPostgres(ctx, cfg.Postgres, "requests", cfg.Postgres.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("opening request pool: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := reqs.Migrate(ctx); err != nil {
			reqs.Close()
			return nil, fmt.Errorf("migrating schema: %w", err)
		}
	}
	s := &stores{requests: reqs, poolStats: reqs.PoolStats, closers: []func() error{reqs.Close}}

	var upd *storage.PostgresStore
	err = resilience.Retry(ctx, "idf-store", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func() error {
		var openErr error
		upd, openErr = storage.OpenPostgres(ctx, cfg.Postgres, "idf-updater", 1)
		return openErr
	})
	if err != nil {
		s.close()
		return nil, fmt.Errorf("opening idf updater pool: %w", err)
	}
	s.updater = upd
	s.closers = append(s.closers, upd.Close)
	return s, nil
}

func replicaID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "replica"
	}
	return host + "-" + uuid.NewString()[:8]
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting lexical retriever",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Enabled,
		"kafka", cfg.Kafka.Enabled,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	caches, err := document.NewCaches(cfg.Cache.TermCapacity, cfg.Cache.DocumentCapacity)
	if err != nil {
		return err
	}
	m.RegisterCache("terms", func() (uint64, uint64, uint64, int) {
		s := caches.Terms.Stats()
		return s.Hits, s.Misses, s.Evictions, s.Size
	})
	m.RegisterCache("documents", func() (uint64, uint64, uint64, int) {
		s := caches.Documents.Stats()
		return s.Hits, s.Misses, s.Evictions, s.Size
	})
	if st.poolStats != nil {
		m.RegisterPool("requests", func() (int, int, int) {
			s := st.poolStats()
			return s.InUse, s.Idle, s.Waiting
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	checker := health.NewChecker()
	checker.Register("storage", true, health.PingCheck(st.requests.Ping))

	var (
		notifiers  document.Notifiers
		queryCache *cache.QueryCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis, "lexical-retriever")
		if err != nil {
			slog.Warn("redis unavailable, response caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			notifiers = append(notifiers, invalidation.ResponseInvalidator(queryCache))
			checker.Register("redis", false, health.PingCheck(redisClient.Ping))
			slog.Info("response cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var (
		collector  *analytics.Collector
		aggregator *analytics.Aggregator
	)
	origin := replicaID()
	if cfg.Kafka.Enabled {
		searchEvents := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer searchEvents.Close()
		collector = analytics.NewCollector(searchEvents, 0, 0, 0)
		g.Go(func() error { return collector.Run(ctx) })

		// Per-replica groups so every replica sees the whole stream.
		aggregator = analytics.NewAggregator()
		searchConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents,
			cfg.Kafka.ConsumerGroup+"-analytics-"+origin, aggregator.Handler())
		g.Go(func() error { return searchConsumer.Start(ctx) })

		docEvents := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents)
		defer docEvents.Close()
		publisher := invalidation.NewPublisher(docEvents, origin, 0)
		notifiers = append(notifiers, publisher)
		g.Go(func() error { return publisher.Run(ctx) })
		slog.Info("event streaming enabled", "brokers", cfg.Kafka.Brokers, "origin", origin)
	}

	docs := indexer.New(st.requests, caches,
		indexer.WithNotifier(notifiers),
		indexer.WithMetrics(m),
	)
	if cfg.Kafka.Enabled {
		invalidations := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents,
			cfg.Kafka.ConsumerGroup+"-invalidation-"+origin, invalidation.Handler(origin, docs))
		g.Go(func() error { return invalidations.Start(ctx) })
	}

	table := idf.NewTable()
	idfOpts := []idf.Option{idf.WithMetrics(m), idf.WithCycleTimeout(cfg.IDF.CycleTimeout)}
	if queryCache != nil {
		idfOpts = append(idfOpts, idf.OnRefresh(func(ctx context.Context) {
			if err := queryCache.Invalidate(ctx); err != nil {
				slog.Warn("response cache invalidation after idf refresh failed", "error", err)
			}
		}))
	}
	updater := idf.NewUpdater(st.updater, table, cfg.IDF.RefreshInterval, idfOpts...)
	g.Go(func() error { return updater.Run(ctx) })
	checker.Register("idf", false, func(context.Context) health.ComponentHealth {
		if table.Len() == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "idf table empty"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d terms", table.Len())}
	})

	search := searcher.New(st.requests, caches, table,
		searcher.WithMetrics(m),
		searcher.WithDefaultTopK(cfg.Search.DefaultTopK),
	)

	searchOpts := []searchhandler.Option{}
	if queryCache != nil {
		searchOpts = append(searchOpts, searchhandler.WithQueryCache(queryCache))
	}
	if collector != nil {
		searchOpts = append(searchOpts, searchhandler.WithCollector(collector))
	}
	if st.poolStats != nil {
		searchOpts = append(searchOpts, searchhandler.WithPoolStats(st.poolStats))
	}
	sh := searchhandler.New(search, caches, cfg.Search.DefaultTopK, cfg.Search.MaxTopK, searchOpts...)
	dh := ingestionhandler.New(docs)
	ah := analytics.NewHandler(aggregator, collector)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", dh.Create)
	mux.HandleFunc("GET /documents", dh.List)
	mux.HandleFunc("GET /documents/{doc_id}", dh.Get)
	mux.HandleFunc("DELETE /documents/{doc_id}", dh.Delete)
	mux.HandleFunc("GET /search", sh.Search)
	mux.HandleFunc("POST /search", sh.Search)
	mux.HandleFunc("GET /cache/stats", sh.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", sh.CacheInvalidate)
	mux.HandleFunc("GET /analytics", ah.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Metrics(m)}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst)
		mws = append(mws, middleware.RateLimit(limiter, m))
		g.Go(func() error {
			limiter.RunCleanup(ctx, time.Minute)
			return nil
		})
	}
	mws = append(mws, middleware.Timeout(cfg.Server.RequestTimeout))

	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Port, reg) })
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		slog.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
