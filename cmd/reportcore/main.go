package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/report-core/internal/aggregation"
	"github.com/aevon-lab/report-core/internal/broker"
	"github.com/aevon-lab/report-core/internal/cache"
	corecfg "github.com/aevon-lab/report-core/internal/core/config"
	"github.com/aevon-lab/report-core/internal/core/storage"
	"github.com/aevon-lab/report-core/internal/core/storage/memory"
	"github.com/aevon-lab/report-core/internal/core/storage/postgres"
	"github.com/aevon-lab/report-core/internal/deadletter"
	"github.com/aevon-lab/report-core/internal/dispatcher"
	"github.com/aevon-lab/report-core/internal/ingestion"
	"github.com/aevon-lab/report-core/internal/metrics"
	"github.com/aevon-lab/report-core/internal/migrations"
	"github.com/aevon-lab/report-core/internal/report"
	"github.com/aevon-lab/report-core/internal/schema"
	"github.com/aevon-lab/report-core/internal/server"
)

func main() {
	configPath := flag.String("config", "reportcore.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, level); err != nil {
		slog.Error("Report core stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configPath string, level *slog.LevelVar) error {
	// 1. Load Configuration
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Mode == "debug" {
		level.Set(slog.LevelDebug)
	}
	slog.Info("Loaded config",
		"database", cfg.Database.Type,
		"cache", cfg.Cache.Type,
		"dead_letter", cfg.DeadLetter.Type,
		"exchange", cfg.Broker.Exchange,
		"alert_rules", len(cfg.AlertRules.GetRules()),
	)

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. Aggregate store (PostgreSQL or in-memory)
	baseStore, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	store := metrics.InstrumentStore(baseStore, m)

	// 4. View cache and dead-letter sink
	redisClients := map[string]*redis.Client{}
	defer func() {
		for _, cli := range redisClients {
			cli.Close()
		}
	}()
	redisFor := func(url string) (*redis.Client, error) {
		if cli, ok := redisClients[url]; ok {
			return cli, nil
		}
		cli, err := cache.OpenRedis(url)
		if err != nil {
			return nil, err
		}
		redisClients[url] = cli
		return cli, nil
	}

	viewCache, err := openCache(cfg.Cache, redisFor)
	if err != nil {
		return err
	}

	var sink storage.DeadLetterSink
	switch cfg.DeadLetter.Type {
	case "redis":
		cli, err := redisFor(cfg.DeadLetter.RedisURL)
		if err != nil {
			return fmt.Errorf("dead-letter redis: %w", err)
		}
		sink = deadletter.NewRedisSink(cli, cfg.DeadLetter.ListKey)
	default:
		sink = deadletter.NewLogSink(slog.Default())
	}

	// 5. Aggregation engine, dispatcher and broker consumer
	engine := aggregation.NewEngine(store, viewCache, cfg.AlertRules, aggregation.EngineOptions{
		SalesDropWindow: cfg.Aggregation.SalesDropWindow,
	})
	disp := dispatcher.New(schema.NewDefaultRegistry(), store, engine, sink, m, dispatcher.Options{
		MaxRetries:      cfg.Broker.MaxRetries,
		InitialInterval: cfg.Broker.RetryInitialInterval,
		MaxInterval:     cfg.Broker.ReconnectMaxInterval,
	})
	consumer := broker.NewConsumer(cfg.Broker, disp, m)

	scheduler := aggregation.NewScheduler(store, aggregation.SchedulerOptions{
		Interval:  cfg.Aggregation.PruneInterval,
		Retention: cfg.Aggregation.LedgerRetention,
		BatchSize: cfg.Aggregation.PruneBatchSize,
	})

	// 6. Report service (query API)
	reports := report.NewService(store, viewCache, m, report.Options{
		Timeout:                cfg.Query.Timeout,
		TTL:                    cfg.Cache.DefaultTTL,
		StaleTTL:               cfg.Cache.StaleTTL,
		ForecastMinHistory:     cfg.Query.ForecastMinHistory,
		ForecastHistoryPeriods: cfg.Query.ForecastHistoryPeriods,
		TopModels:              cfg.Query.TopModels,
		Thresholds:             cfg.Aggregation.Thresholds(),
	})

	routes := []server.RouteRegistrar{reports}
	if cfg.Server.IngestEnabled {
		pub, conn, err := broker.Dial(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return fmt.Errorf("ingest publisher: %w", err)
		}
		defer conn.Close()
		routes = append(routes, ingestion.NewService(schema.NewDefaultRegistry(), pub, cfg.Server.MaxBodySizeMB))
		slog.Info("HTTP ingestion enabled", "exchange", cfg.Broker.Exchange)
	}

	// 7. Initialize Server
	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), server.Options{
		Mode:     cfg.Server.Mode,
		Checks:   map[string]server.HealthChecker{"store": store, "cache": viewCache},
		Gatherer: reg,
	}, routes...)

	// 8. Start Services; the first to fail stops the rest.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}

func openStore(cfg corecfg.DatabaseConfig) (storage.Store, func(), error) {
	if cfg.Type == "memory" {
		slog.Warn("Using in-memory aggregate store; aggregates are lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := migrations.Run(db, cfg.AutoMigrate); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run database migrations: %w", err)
	}
	adapter := postgres.NewAggregateAdapter(db)
	return adapter, func() { adapter.Close() }, nil
}

func openCache(cfg corecfg.CacheConfig, redisFor func(string) (*redis.Client, error)) (cache.Cache, error) {
	defaults := cache.PutOptions{TTL: cfg.DefaultTTL, StaleTTL: cfg.StaleTTL}
	switch cfg.Type {
	case "redis":
		cli, err := redisFor(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cache redis: %w", err)
		}
		return cache.NewRedis(cli, defaults), nil
	case "memory":
		return cache.NewLRU(cfg.MemoryCapacity, defaults), nil
	default:
		slog.Warn("View cache disabled; every query is computed from the store")
		return cache.NewNop(), nil
	}
}
